package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saveflow/internal/analytics"
	"github.com/sells-group/saveflow/internal/flow"
	"github.com/sells-group/saveflow/internal/model"
	"github.com/sells-group/saveflow/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the save-flow HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
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
			Handler:           buildRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the HTTP API. Split out so tests can drive it with
// httptest against a memory-backed env.
func buildRouter(env *env, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/flows/initiate", handleInitiate(env))
		r.Get("/flows/{attemptID}", handleGetAttempt(env))
		r.Post("/flows/{attemptID}/progress", handleProgress(env))
		r.Post("/flows/{attemptID}/complete", handleComplete(env))
		r.Get("/tenants/{tenantID}/config", handleGetConfig(env))
		r.Put("/tenants/{tenantID}/config", handleUpdateConfig(env))
		r.Get("/tenants/{tenantID}/analytics", handleAnalytics(env))
	})

	return r
}

func handleInitiate(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			TenantID   string `json:"tenant_id"`
			CustomerID string `json:"customer_id"`
			Trigger    string `json:"trigger"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.TenantID == "" || body.CustomerID == "" {
			writeError(w, http.StatusBadRequest, "tenant_id and customer_id are required")
			return
		}

		res, err := env.Engine.Initiate(req.Context(), body.TenantID, body.CustomerID, body.Trigger)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetAttempt(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "attemptID")
		attempt, err := env.Store.FindAttempt(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if attempt == nil {
			writeError(w, http.StatusNotFound, "attempt not found")
			return
		}
		writeJSON(w, http.StatusOK, attempt)
	}
}

func handleProgress(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "attemptID")

		var body struct {
			Response       json.RawMessage `json:"response"`
			SelectedOption string          `json:"selected_option"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// The response payload is typed by the attempt's current stage.
		attempt, err := env.Store.FindAttempt(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if attempt == nil {
			writeError(w, http.StatusNotFound, "attempt not found")
			return
		}

		resp, err := model.DecodeStageResponse(attempt.CurrentStage, body.Response)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := env.Engine.Progress(req.Context(), id, resp, body.SelectedOption)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleComplete(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "attemptID")

		var body struct {
			Outcome      string         `json:"outcome"`
			Intervention string         `json:"intervention"`
			Offer        map[string]any `json:"offer"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Outcome == "" {
			writeError(w, http.StatusBadRequest, "outcome is required")
			return
		}

		attempt, err := env.Engine.Complete(req.Context(), id, model.Outcome(body.Outcome), flow.CompleteDetails{
			Intervention: body.Intervention,
			Offer:        body.Offer,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, attempt)
	}
}

func handleGetConfig(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenantID := chi.URLParam(req, "tenantID")
		cfg, err := env.Resolver.Resolve(req.Context(), tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleUpdateConfig(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenantID := chi.URLParam(req, "tenantID")

		var patch model.ConfigPatch
		if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		updated, err := env.Resolver.Update(req.Context(), tenantID, patch)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleAnalytics(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenantID := chi.URLParam(req, "tenantID")

		filter := store.AttemptFilter{TenantID: tenantID}
		if since := req.URL.Query().Get("since"); since != "" {
			d, err := time.ParseDuration(since)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid since duration")
				return
			}
			filter.Since = time.Now().UTC().Add(-d)
		}

		attempts, err := env.Store.QueryAttempts(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"summary": analytics.Summarize(attempts),
			"dropoff": analytics.Dropoff(attempts),
			"reasons": analytics.ByReason(attempts),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, flow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case eris.Is(err, flow.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case eris.Is(err, flow.ErrFlowDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case eris.Is(err, flow.ErrInvalidStage):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
