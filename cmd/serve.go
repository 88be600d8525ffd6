package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/pipeline"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job submission API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildMux(env, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

// submitRequest is the POST /jobs body. Either DocumentText or DocumentRef
// must be set; the text wins when both are.
type submitRequest struct {
	JobID        string `json:"job_id"`
	Source       string `json:"source"`
	DocumentText string `json:"document_text"`
	DocumentRef  string `json:"document_ref"`
}

// buildMux wires the job API onto a chi router.
func buildMux(env *pipelineEnv, corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := env.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		doc, source := req.DocumentText, req.Source
		if strings.TrimSpace(doc) == "" && req.DocumentRef != "" {
			loaded, err := env.Source.Load(r.Context(), req.DocumentRef)
			if err != nil {
				zap.L().Warn("api: load document failed", zap.String("ref", req.DocumentRef), zap.Error(err))
				writeError(w, http.StatusBadRequest, "document could not be loaded")
				return
			}
			doc = loaded.Text
			if source == "" {
				source = loaded.Name
			}
		}
		if strings.TrimSpace(doc) == "" {
			writeError(w, http.StatusBadRequest, "document_text or document_ref is required")
			return
		}

		job, err := env.Pipeline.Submit(r.Context(), pipeline.JobRequest{
			JobID:    req.JobID,
			Source:   source,
			Document: doc,
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, job)
		case errors.Is(err, store.ErrJobNotPending):
			writeError(w, http.StatusConflict, "job is not pending")
		case errors.Is(err, pipeline.ErrEmptyDocument):
			writeError(w, http.StatusBadRequest, "document is empty")
		default:
			zap.L().Error("api: submit job failed", zap.String("job_id", req.JobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "submit failed")
		}
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, err := env.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/jobs/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := env.Store.GetJob(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		items, err := env.Store.ListItems(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "items": items})
	})

	return r
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	zap.L().Error("api: store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
