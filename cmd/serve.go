package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/monitoring"
	"github.com/sells-group/taxcomp-cli/internal/parse"
	"github.com/sells-group/taxcomp-cli/internal/pipeline"
	"github.com/sells-group/taxcomp-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP comparison server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer rt.Close()

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(rt.Store, rt.Pipeline.Breakers())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		state := &serveState{
			pipeline:  rt.Pipeline,
			store:     rt.Store,
			maxUpload: int64(cfg.Server.MaxUploadMB) << 20,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(state),
		}

		// Graceful shutdown with a drain timeout.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			grace := time.Duration(cfg.Server.ShutdownGraceSecs) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serveState carries what the HTTP handlers need.
type serveState struct {
	pipeline  *pipeline.Pipeline
	store     store.Store
	maxUpload int64
}

func newRouter(s *serveState) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/v1/compare", s.handleCompare)
	r.Get("/v1/runs", s.handleListRuns)
	r.Get("/v1/runs/{id}", s.handleGetRun)

	return r
}

// requestLogger logs one line per request with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *serveState) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

// compareResponse is the POST /v1/compare reply payload.
type compareResponse struct {
	RunID     string              `json:"run_id"`
	Fallback  bool                `json:"fallback,omitempty"`
	Dataset   model.Dataset       `json:"dataset"`
	Artifacts model.ArtifactPaths `json:"artifacts"`
}

func (s *serveState) handleCompare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", err)
		return
	}

	dir, err := os.MkdirTemp("", "taxcomp-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	pathA, kindA, err := saveUpload(r, "document_a", dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	pathB, kindB, err := saveUpload(r, "document_b", dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	res, err := s.pipeline.Compare(r.Context(), pipeline.CompareRequest{
		DocumentA: pathA,
		DocumentB: pathB,
		KindA:     kindA,
		KindB:     kindB,
		Client:    r.FormValue("client"),
		Scenario:  r.FormValue("scenario"),
		YearA:     r.FormValue("year_a"),
		YearB:     r.FormValue("year_b"),
	})
	if err != nil {
		status, name := errorStatus(err)
		writeError(w, status, name, err)
		return
	}

	writeJSON(w, http.StatusOK, compareResponse{
		RunID:     res.RunID,
		Fallback:  res.Fallback,
		Dataset:   res.Dataset,
		Artifacts: res.Artifacts,
	})
}

func (s *serveState) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Status: model.RunStatus(q.Get("status")),
		Client: q.Get("client"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *serveState) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}

	metrics, err := s.store.GetRunMetrics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run, "metrics": metrics})
}

// saveUpload writes one multipart file field into dir, keeping the
// original extension so the document kind stays inferable.
func saveUpload(r *http.Request, field, dir string) (string, parse.Kind, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", "", eris.Wrapf(err, "missing %s", field)
	}
	defer f.Close() //nolint:errcheck

	kind, err := parse.KindFromPath(hdr.Filename)
	if err != nil {
		return "", "", err
	}

	dst := filepath.Join(dir, field+filepath.Ext(hdr.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", "", eris.Wrap(err, "save upload")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, f); err != nil {
		return "", "", eris.Wrap(err, "save upload")
	}
	return dst, kind, nil
}

// errorStatus maps pipeline errors onto HTTP statuses: contract
// violations are the caller's problem, collaborator failures are a bad
// gateway.
func errorStatus(err error) (int, string) {
	var (
		collab *pipeline.CollaboratorError
		format *extract.FormatError
		shape  *extract.ShapeError
		schema *extract.SchemaError
		parsed *parse.Error
	)
	switch {
	case errors.As(err, &collab):
		return http.StatusBadGateway, "collaborator_error"
	case errors.As(err, &format):
		return http.StatusUnprocessableEntity, "format_error"
	case errors.As(err, &shape):
		return http.StatusUnprocessableEntity, "shape_error"
	case errors.As(err, &schema):
		return http.StatusUnprocessableEntity, "schema_error"
	case errors.As(err, &parsed):
		return http.StatusUnprocessableEntity, "parse_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name string, err error) {
	writeJSON(w, status, map[string]string{"error": name, "detail": err.Error()})
}
