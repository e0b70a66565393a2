package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

func pubDataset() *model.Dataset {
	pct := 6.67
	return &model.Dataset{
		Client:     "acme",
		Scenario:   "Johnson 2022 vs 2023",
		YearALabel: "2022",
		YearBLabel: "2023",
		Metrics: []model.Metric{
			{Category: "WAGES", YearAValue: 75000, YearBValue: 80000, Difference: 5000, PercentageChange: &pct},
			{Category: "TOTAL_TAX", YearAValue: 12000, YearBValue: 13000, Difference: 1000},
			{Category: "REFUND", YearAValue: 1800, YearBValue: 1400, Difference: -400},
		},
		GeneratedAt: time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC),
	}
}

func expectDatabase(mc *MockClient, dbID string) {
	mc.On("GetDatabase", mock.Anything, dbID).
		Return(&notionapi.Database{ID: notionapi.ObjectID(dbID)}, nil).Once()
}

func TestPublishDataset_CreatesOnePagePerMetric(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	expectDatabase(mc, "db-1")

	var titles []string
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(*notionapi.PageCreateRequest)
			tp := req.Properties["Name"].(notionapi.TitleProperty)
			titles = append(titles, tp.Title[0].Text.Content)
		}).
		Return(&notionapi.Page{ID: "page"}, nil).Times(3)

	res, err := PublishDataset(ctx, mc, "db-1", pubDataset())
	require.NoError(t, err)
	assert.Equal(t, 3, res.PagesCreated)
	assert.Equal(t, "db-1", res.DatabaseID)

	// Pages come out in dataset order.
	assert.Equal(t, []string{"Wages", "Total Tax", "Refund"}, titles)
	mc.AssertExpectations(t)
}

func TestPublishDataset_MetricProperties(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	expectDatabase(mc, "db-1")

	var reqs []*notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			reqs = append(reqs, args.Get(1).(*notionapi.PageCreateRequest))
		}).
		Return(&notionapi.Page{ID: "page"}, nil).Times(3)

	_, err := PublishDataset(ctx, mc, "db-1", pubDataset())
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	wages := reqs[0].Properties
	assert.Equal(t, notionapi.DatabaseID("db-1"), reqs[0].Parent.DatabaseID)
	assert.Equal(t, "INCOME", wages["Bucket"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "$75,000.00", wages["Year A"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "$80,000.00", wages["Year B"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "+$5,000.00", wages["Difference"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "+6.67%", wages["% Change"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "Favorable", wages["Favorability"].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "2022 vs 2023", wages["Years"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "acme", wages["Client"].(notionapi.RichTextProperty).RichText[0].Text.Content)
	require.NotNil(t, wages["Published"].(notionapi.DateProperty).Date.Start)

	// A tax increase is unfavorable, a refund decrease too.
	totalTax := reqs[1].Properties
	assert.Equal(t, "Unfavorable", totalTax["Favorability"].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "n/a", totalTax["% Change"].(notionapi.RichTextProperty).RichText[0].Text.Content)

	refund := reqs[2].Properties
	assert.Equal(t, "Unfavorable", refund["Favorability"].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "-$400.00", refund["Difference"].(notionapi.RichTextProperty).RichText[0].Text.Content)
}

func TestPublishDataset_EmptyDataset(t *testing.T) {
	mc := new(MockClient)

	_, err := PublishDataset(context.Background(), mc, "db-1", &model.Dataset{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to publish")
	mc.AssertExpectations(t)
}

func TestPublishDataset_BadDatabase(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("GetDatabase", mock.Anything, "db-missing").
		Return(nil, assert.AnError).Once()

	_, err := PublishDataset(ctx, mc, "db-missing", pubDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve target database")
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPublishDataset_CreateError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	expectDatabase(mc, "db-1")

	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "page"}, nil).Once()
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError).Once()

	res, err := PublishDataset(ctx, mc, "db-1", pubDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOTAL_TAX")
	assert.Equal(t, 1, res.PagesCreated)
}

func TestPublishDataset_ContextCancelled(t *testing.T) {
	mc := new(MockClient)
	ctx, cancel := context.WithCancel(context.Background())

	mc.On("GetDatabase", mock.Anything, "db-1").
		Return(&notionapi.Database{ID: "db-1"}, nil).Once()
	cancel()

	res, err := PublishDataset(ctx, mc, "db-1", pubDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Equal(t, 0, res.PagesCreated)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPctText(t *testing.T) {
	assert.Equal(t, "n/a", pctText(nil))
	up := 12.5
	assert.Equal(t, "+12.50%", pctText(&up))
	down := -3.0
	assert.Equal(t, "-3.00%", pctText(&down))
}

func TestFavorabilityName_Unchanged(t *testing.T) {
	assert.Equal(t, "Unchanged", favorabilityName("WAGES", 0))
}
