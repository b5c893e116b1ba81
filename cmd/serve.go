package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/monitoring"
	"github.com/sells-group/da-ingest/internal/normalize"
	"github.com/sells-group/da-ingest/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored applications and run history as read-only JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(st, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitoring.WebhookURL != "" {
			go monitoring.NewChecker(st, cfg.Monitoring).Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter mounts the read-only API over st. CORS is enabled only when
// origins is non-empty.
func buildRouter(st store.Store, origins []string) http.Handler {
	r := chi.NewRouter()
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/applications", func(w http.ResponseWriter, req *http.Request) {
		f, err := filterFromQuery(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recs, err := st.List(req.Context(), f)
		if err != nil {
			zap.L().Error("serve: list applications", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	r.Get("/applications/{daNumber}", func(w http.ResponseWriter, req *http.Request) {
		da, err := normalize.CanonicalDANumber(chi.URLParam(req, "daNumber"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed DA number")
			return
		}
		rec, err := st.Get(req.Context(), da)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		if err != nil {
			zap.L().Error("serve: get application", zap.String("da_number", da), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		limit, err := intParam(req, "limit", 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		runs, err := st.ListRuns(req.Context(), limit)
		if err != nil {
			zap.L().Error("serve: list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/checkpoints", func(w http.ResponseWriter, req *http.Request) {
		cps, err := st.ListCheckpoints(req.Context())
		if err != nil {
			zap.L().Error("serve: list checkpoints", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, cps)
	})

	return r
}

func filterFromQuery(req *http.Request) (store.Filter, error) {
	q := req.URL.Query()
	f := store.Filter{Search: q.Get("search")}
	if c := q.Get("category"); c != "" {
		f.Category = model.Category(c)
		if !f.Category.Valid() {
			return store.Filter{}, eris.Errorf("unknown category %q", c)
		}
	}
	if d := q.Get("decision"); d != "" {
		f.Decision = model.Decision(d)
		if !f.Decision.Valid() {
			return store.Filter{}, eris.Errorf("unknown decision %q", d)
		}
	}
	var err error
	if f.Limit, err = intParam(req, "limit", 100); err != nil {
		return store.Filter{}, err
	}
	if f.Offset, err = intParam(req, "offset", 0); err != nil {
		return store.Filter{}, err
	}
	return f, nil
}

func intParam(req *http.Request, name string, def int) (int, error) {
	s := req.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
