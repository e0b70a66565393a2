package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/render"
)

// PublishResult summarizes a dataset publish.
type PublishResult struct {
	DatabaseID   string
	PagesCreated int
}

// PublishDataset creates one page per metric in the target database,
// sequentially in dataset order so the database mirrors the artifacts row
// for row. The Client's limiter keeps page creation under Notion's 3 req/s.
// The target database is resolved first so a bad ID fails before any page
// is created.
func PublishDataset(ctx context.Context, c Client, dbID string, ds *model.Dataset) (*PublishResult, error) {
	if ds == nil || len(ds.Metrics) == 0 {
		return nil, eris.New("notion: nothing to publish")
	}

	if _, err := c.GetDatabase(ctx, dbID); err != nil {
		return nil, eris.Wrap(err, "notion: resolve target database")
	}

	res := &PublishResult{DatabaseID: dbID}
	for _, m := range ds.Metrics {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: publish cancelled")
		}

		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: buildMetricProperties(ds, m),
		}

		if _, err := c.CreatePage(ctx, req); err != nil {
			return res, eris.Wrap(err, fmt.Sprintf("notion: create page for %s", m.Category))
		}
		res.PagesCreated++
	}

	return res, nil
}

// buildMetricProperties maps one compared metric onto Notion page
// properties. The metric's display label becomes the title; values carry
// the same formatting as the document and spreadsheet artifacts.
func buildMetricProperties(ds *model.Dataset, m model.Metric) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: render.DisplayLabel(m.Category)}},
			},
		},
		"Bucket":     richText(render.Categorize(m.Category)),
		"Year A":     richText(render.Value(m.Category, m.YearAValue)),
		"Year B":     richText(render.Value(m.Category, m.YearBValue)),
		"Difference": richText(render.Delta(m.Category, m.Difference)),
		"% Change":   richText(pctText(m.PercentageChange)),
		"Favorability": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: favorabilityName(m.Category, m.Difference),
			},
		},
	}

	if ds.YearALabel != "" && ds.YearBLabel != "" {
		props["Years"] = richText(ds.YearALabel + " vs " + ds.YearBLabel)
	}
	if ds.Client != "" {
		props["Client"] = richText(ds.Client)
	}
	if ds.Scenario != "" {
		props["Scenario"] = richText(ds.Scenario)
	}

	published := ds.GeneratedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}
	start := notionapi.Date(published)
	props["Published"] = notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: &start,
		},
	}

	return props
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}

func pctText(pct *float64) string {
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *pct)
}

func favorabilityName(category string, difference float64) string {
	switch render.Favorability(category, difference) {
	case 1:
		return "Favorable"
	case -1:
		return "Unfavorable"
	default:
		return "Unchanged"
	}
}
