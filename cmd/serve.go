package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/ledger"
	"github.com/clinbridge/edcfill/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ledger HTTP API",
	Long:  "Serves read access to runs and field records, plus review approval, for dashboards and coordinator integrations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		led, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck
		if err := led.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeRouter(led),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newServeRouter builds the ledger API routes.
func newServeRouter(led ledger.Ledger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(api chi.Router) {
		api.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			runs, err := led.ListRuns(r.Context(), ledger.RunFilter{
				Status: model.RunStatus(r.URL.Query().Get("status")),
				Limit:  limit,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		api.Get("/{run_id}", func(w http.ResponseWriter, r *http.Request) {
			run, err := led.GetRun(r.Context(), chi.URLParam(r, "run_id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		api.Get("/{run_id}/records", func(w http.ResponseWriter, r *http.Request) {
			records, err := led.ListRecords(r.Context(), chi.URLParam(r, "run_id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
		})

		api.Get("/{run_id}/summary", func(w http.ResponseWriter, r *http.Request) {
			summary, err := led.Summary(r.Context(), chi.URLParam(r, "run_id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})

		api.Post("/{run_id}/fields/{field_id}/approve", func(w http.ResponseWriter, r *http.Request) {
			runID := chi.URLParam(r, "run_id")
			fieldID := chi.URLParam(r, "field_id")

			rec, err := led.GetRecord(r.Context(), runID, fieldID)
			if err != nil {
				writeError(w, err)
				return
			}
			if rec.Disposition.Status != model.StatusNeedsReview {
				writeJSON(w, http.StatusConflict, map[string]string{
					"error": fmt.Sprintf("field is %s, only needs_review fields can be approved", rec.Disposition.Status),
				})
				return
			}
			if err := led.SetApproved(r.Context(), runID, fieldID); err != nil {
				writeError(w, err)
				return
			}
			zap.L().Info("field approved via API",
				zap.String("run_id", runID),
				zap.String("field_id", fieldID),
			)
			writeJSON(w, http.StatusOK, map[string]string{
				"run_id":   runID,
				"field_id": fieldID,
				"status":   "approved",
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
