package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Exemplo: o pipeline de admissão embutido direto no webserver (sem proxy),
// com stores em memória e duas sessões de demonstração.
func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	counters := infra.NewMemoryCounterStore()
	counters.StartJanitor(ctx)
	sessions := infra.NewMemorySessionStore()
	stats := infra.NewMemoryStatsStore(infra.WithKeepEvents(50))

	if err := seedSessions(ctx, sessions); err != nil {
		logger.Fatal().Err(err).Msg("seed sessions")
	}

	matcher, err := application.NewPolicyMatcher(application.DefaultPolicyTable())
	if err != nil {
		logger.Fatal().Err(err).Msg("policy matcher")
	}
	risk := application.NewRiskEngine(infra.NewMemoryRiskStore(), application.WithRiskLogger(logger))
	limiter, err := application.NewRateLimiter(counters, matcher,
		application.WithRiskEngine(risk),
		application.WithLimiterLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("rate limiter")
	}

	gw, err := admission.New(
		admission.WithRateLimiter(limiter),
		admission.WithRiskEngine(risk),
		admission.WithAuth(application.NewAuthService(sessions,
			application.WithSessionStore(sessions),
			application.WithAuthLogger(logger),
		)),
		admission.WithAuditSink(infra.MultiSink{
			infra.NewLogSink(logger, 20, 50),
			stats,
		}),
		admission.WithChallengeMode(admission.ChallengeEnforce),
		admission.WithEnvironment("development"),
		admission.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway")
	}

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/api/public/ping", gw.Wrap(admission.Route{}, func(w http.ResponseWriter, _ *http.Request) error {
		return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	r.Method(http.MethodGet, "/api/leads", gw.Wrap(admission.Route{
		RequireAuth: true,
		Permissions: []string{"leads:read"},
	}, listLeads))
	r.Method(http.MethodPost, "/api/leads/enrich", gw.Wrap(admission.Route{
		RequireAuth: true,
		Permissions: []string{"leads:write"},
		Operation:   "batch-enrichment",
	}, enrichLeads))
	r.Method(http.MethodPost, "/api/reports", gw.Wrap(admission.Route{
		RequireAuth: true,
		Permissions: []string{"reports:create"},
		Sensitive:   true,
		Operation:   "report-generation",
	}, func(w http.ResponseWriter, r *http.Request) error {
		sc, _ := admission.SecurityContextFrom(r.Context())
		return writeJSON(w, http.StatusAccepted, map[string]string{
			"report":      "queued",
			"requestId":   admission.RequestIDFrom(r.Context()),
			"requestedBy": sc.UserID,
		})
	}))
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		counts := make(map[domain.AuditType]int64)
		for _, t := range stats.Types() {
			counts[t] = stats.Count(t)
		}
		_ = writeJSON(w, http.StatusOK, map[string]any{
			"events":  counts,
			"byRoute": stats.ByRoute(),
		})
	})

	h := admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50})(r)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).
		Strs("tokens", []string{"demo-reader", "demo-analyst"}).
		Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// seedSessions grava as sessões de demonstração sem IP/UA, então a checagem de
// sessão só compara a idade.
func seedSessions(ctx context.Context, store *infra.MemorySessionStore) error {
	now := time.Now()
	demo := []domain.SecurityContext{
		{
			UserID:         "u-reader",
			OrganizationID: "org-demo",
			Role:           "viewer",
			Permissions:    []string{"leads:read"},
			SessionID:      "demo-reader",
		},
		{
			UserID:         "u-analyst",
			OrganizationID: "org-demo",
			Role:           "analyst",
			Permissions:    []string{"leads:read", "leads:write", "reports:create"},
			SessionID:      "demo-analyst",
			IsVerified:     true,
		},
	}
	for _, sc := range demo {
		if err := store.Put(ctx, sc, now, 12*time.Hour); err != nil {
			return err
		}
	}
	return nil
}

type lead struct {
	ID      string `json:"id"`
	Company string `json:"company"`
	Score   int    `json:"score"`
}

var leads = []lead{
	{ID: "l-1", Company: "Acme Ltda", Score: 72},
	{ID: "l-2", Company: "Borealis SA", Score: 55},
}

func listLeads(w http.ResponseWriter, r *http.Request) error {
	sc, _ := admission.SecurityContextFrom(r.Context())
	return writeJSON(w, http.StatusOK, map[string]any{
		"organization": sc.OrganizationID,
		"leads":        leads,
	})
}

type enrichRequest struct {
	LeadIDs []string `json:"leadIds"`
}

func enrichLeads(w http.ResponseWriter, r *http.Request) error {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
	}
	if len(req.LeadIDs) == 0 {
		return writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty_lead_list"})
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{"enriching": len(req.LeadIDs)})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
