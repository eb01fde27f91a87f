// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/adiadia/vault-flow/internal/chain"
	"github.com/adiadia/vault-flow/internal/domain"
	"github.com/adiadia/vault-flow/internal/metrics"
	"github.com/adiadia/vault-flow/internal/session"
	"github.com/adiadia/vault-flow/internal/transport/middleware"
	"github.com/adiadia/vault-flow/internal/vault"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errEmptyBody = errors.New("request body is required")

type createFlowRequest struct {
	Action   vault.Action   `json:"action"`
	Label    string         `json:"label"`
	Position vault.Position `json:"position"`
	// LoadPosition refreshes allowance and balance from chain state before
	// the steps are laid out.
	LoadPosition bool                 `json:"load_position"`
	Enqueue      *domain.TxDescriptor `json:"enqueue"`
}

type Deps struct {
	Queue      QueueService
	Flows      FlowRegistry
	Chain      chain.Client
	Health     HealthChecker
	Logger     *slog.Logger
	AdminToken string
	Version    string
	Commit     string
	BuildDate  string

	// RateLimitPerMin caps execution requests per client. Zero disables it.
	RateLimitPerMin int
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	admin := middleware.AdminTokenAuth(deps.AdminToken, logger)
	limit := middleware.RateLimit(deps.RateLimitPerMin, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- QUEUE ----------------

	if deps.Queue != nil {
		q := deps.Queue

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				txs := q.List()
				if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
					txs = q.ByStatus(domain.TxStatus(status))
				}
				if txs == nil {
					txs = []domain.QueueTransaction{}
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"transactions":  txs,
					"active_id":     q.ActiveID(),
					"pending_count": q.PendingCount(),
				})
			})

			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var desc domain.TxDescriptor
				if err := decodeJSON(r, &desc); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				tx, err := q.Add(r.Context(), desc)
				if err != nil {
					writeDomainError(w, r, logger, "add transaction", err)
					return
				}

				logger.Info("transaction queued via API", "tx_id", tx.ID)
				writeJSON(w, http.StatusCreated, tx)
			})

			r.With(admin).Delete("/", func(w http.ResponseWriter, r *http.Request) {
				q.ClearAll(r.Context())
				logger.Info("queue cleared via API")
				w.WriteHeader(http.StatusNoContent)
			})

			r.With(admin).Post("/cleanup", func(w http.ResponseWriter, r *http.Request) {
				purged := q.Cleanup(r.Context())
				writeJSON(w, http.StatusOK, map[string]int{
					"purged": purged,
				})
			})

			r.Get("/pending-count", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]int{
					"pending_count": q.PendingCount(),
				})
			})

			r.With(limit).Post("/execute-all", func(w http.ResponseWriter, r *http.Request) {
				// A dropped client must not abandon broadcast writes mid-receipt.
				txs := q.ExecuteAll(context.WithoutCancel(r.Context()))
				writeJSON(w, http.StatusOK, map[string]any{
					"transactions": txs,
				})
			})

			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				tx, ok := q.Get(id)
				if !ok {
					http.Error(w, "transaction not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, tx)
			})

			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if err := q.Remove(r.Context(), id); err != nil {
					writeDomainError(w, r, logger, "remove transaction", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.With(limit).Post("/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				tx, err := q.Execute(context.WithoutCancel(r.Context()), id)
				if err != nil {
					writeDomainError(w, r, logger, "execute transaction", err)
					return
				}
				writeJSON(w, http.StatusOK, tx)
			})

			r.With(limit).Post("/{id}/simulate", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				res, err := q.Simulate(r.Context(), id)
				if err != nil {
					writeDomainError(w, r, logger, "simulate transaction", err)
					return
				}
				writeJSON(w, http.StatusOK, res)
			})

			r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				tx, err := q.Cancel(r.Context(), id)
				if err != nil {
					writeDomainError(w, r, logger, "cancel transaction", err)
					return
				}
				writeJSON(w, http.StatusOK, tx)
			})

			r.Post("/{id}/move-up", func(w http.ResponseWriter, r *http.Request) {
				if err := q.MoveUp(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeDomainError(w, r, logger, "move transaction", err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"transactions": q.List()})
			})

			r.Post("/{id}/move-down", func(w http.ResponseWriter, r *http.Request) {
				if err := q.MoveDown(r.Context(), chi.URLParam(r, "id")); err != nil {
					writeDomainError(w, r, logger, "move transaction", err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"transactions": q.List()})
			})
		})
	}

	// ---------------- FLOWS ----------------

	if deps.Flows != nil {
		flows := deps.Flows

		r.Route("/flows", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"flows": flows.List(),
				})
			})

			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				if deps.Chain == nil {
					http.Error(w, "chain client not configured", http.StatusServiceUnavailable)
					return
				}

				var req createFlowRequest
				if err := decodeJSON(r, &req); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				pos := req.Position
				if req.LoadPosition {
					if err := vault.LoadPosition(r.Context(), deps.Chain, req.Action, &pos); err != nil {
						if errors.Is(err, vault.ErrUnknownAction) {
							http.Error(w, "unknown action", http.StatusBadRequest)
							return
						}
						logger.Error("load position failed", "action", req.Action, "error", err)
						http.Error(w, "failed to load position", http.StatusBadGateway)
						return
					}
				}

				defs, err := vault.BuildSteps(req.Action, pos, vault.Deps{
					Writer: deps.Chain,
					Reader: deps.Chain,
				})
				if err != nil {
					if errors.Is(err, vault.ErrUnknownAction) || errors.Is(err, domain.ErrInvalidFlow) {
						http.Error(w, err.Error(), http.StatusBadRequest)
						return
					}
					logger.Error("build flow failed", "action", req.Action, "error", err)
					http.Error(w, "failed to build flow", http.StatusInternalServerError)
					return
				}

				label := strings.TrimSpace(req.Label)
				if label == "" {
					label = string(req.Action)
				}
				s, err := flows.Create(defs, session.CreateOptions{
					Label:   label,
					Enqueue: req.Enqueue,
				})
				if err != nil {
					writeDomainError(w, r, logger, "create flow", err)
					return
				}

				writeJSON(w, http.StatusCreated, s.Snapshot())
			})

			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "get flow", err)
					return
				}
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				if err := flows.Delete(chi.URLParam(r, "id")); err != nil {
					writeDomainError(w, r, logger, "delete flow", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.With(limit).Post("/{id}/run", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "run flow", err)
					return
				}
				// Step failures are recorded on the flow and show up in the snapshot.
				if err := s.Executor.Run(r.Context()); err != nil && !errors.Is(err, domain.ErrStepFailed) {
					writeDomainError(w, r, logger, "run flow", err)
					return
				}
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.With(limit).Post("/{id}/steps/{stepID}/execute", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "execute step", err)
					return
				}
				if err := s.Executor.ExecuteStep(r.Context(), chi.URLParam(r, "stepID")); err != nil {
					writeDomainError(w, r, logger, "execute step", err)
					return
				}
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.Post("/{id}/steps/{stepID}/skip", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "skip step", err)
					return
				}
				if err := s.Executor.SkipStep(chi.URLParam(r, "stepID")); err != nil {
					writeDomainError(w, r, logger, "skip step", err)
					return
				}
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.Post("/{id}/steps/{stepID}/retry", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "retry step", err)
					return
				}
				if err := s.Executor.RetryStep(chi.URLParam(r, "stepID")); err != nil {
					writeDomainError(w, r, logger, "retry step", err)
					return
				}
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.Post("/{id}/goto/{index}", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "goto step", err)
					return
				}
				index, err := strconv.Atoi(chi.URLParam(r, "index"))
				if err != nil || index < 0 || index >= len(s.Executor.State().Steps) {
					http.Error(w, "invalid step index", http.StatusBadRequest)
					return
				}
				s.Executor.GoToStep(index)
				writeJSON(w, http.StatusOK, s.Snapshot())
			})

			r.Post("/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
				s, err := flows.Get(chi.URLParam(r, "id"))
				if err != nil {
					writeDomainError(w, r, logger, "reset flow", err)
					return
				}
				s.Executor.Reset()
				writeJSON(w, http.StatusOK, s.Snapshot())
			})
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps sentinel errors to status codes. Anything unknown is
// logged and reported as a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrFlowNotFound),
		errors.Is(err, domain.ErrStepNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrFlowBusy),
		errors.Is(err, domain.ErrStepNotActive),
		errors.Is(err, domain.ErrStepNotSkippable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidDescriptor),
		errors.Is(err, domain.ErrInvalidFlow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		requestLogger(r, logger).Error(op+" failed", "error", err)
		http.Error(w, "failed to "+op, http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	// Call arguments may be uint256 amounts beyond float64 precision.
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
