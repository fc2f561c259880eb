package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config error")
	}
	logger := newLogger(cfg.logLevel, cfg.logFormat)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
	}

	pf, err := infra.LoadPolicyFile(cfg.policyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("policy file")
	}
	table, err := pf.Table()
	if err != nil {
		logger.Fatal().Err(err).Msg("policy table")
	}
	matcher, err := application.NewPolicyMatcher(table.ForEnvironment(cfg.env))
	if err != nil {
		logger.Fatal().Err(err).Msg("policy matcher")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		counters domain.CounterStore
		risks    domain.RiskStore
		sessions interface {
			domain.SessionProvider
			domain.SessionStore
		}
		stats *infra.RedisStatsStore
	)
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			// erros do store liberam o request, então subir sem redis é seguro
			logger.Warn().Err(err).Str("addr", cfg.redisAddr).Msg("redis ping failed; continuing with fail-open stores")
		}

		counters = infra.NewRedisCounterStore(rdb, infra.WithCounterPrefix(cfg.redisPrefix))
		risks = infra.NewRedisRiskStore(rdb, cfg.redisPrefix+":risk")
		sessions = infra.NewRedisSessionStore(rdb, cfg.sessionPrefix)
		if cfg.statsEnabled {
			stats = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.redisPrefix+":stats"),
				infra.WithStatsTTL(cfg.statsTTL),
				infra.WithStatsBucket(cfg.statsBucket),
				infra.WithStatsTrackIdentities(cfg.statsTrackIdentities),
			)
		}
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; counters and sessions are local to this instance")
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		counters = mem
		risks = infra.NewMemoryRiskStore()
		sessions = infra.NewMemorySessionStore()
	}

	risk := application.NewRiskEngine(risks, application.WithRiskLogger(logger))
	limiter, err := application.NewRateLimiter(counters, matcher,
		application.WithRiskEngine(risk),
		application.WithLimiterLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("rate limiter")
	}

	proxies, err := application.NewProxySet(cfg.trustedProxies...)
	if err != nil {
		logger.Fatal().Err(err).Msg("trusted proxies")
	}

	deny := append(append([]string{}, pf.IP.Deny...), cfg.ipDeny...)
	var ipOpts []application.IPGateOption
	if allow := append(append([]string{}, pf.IP.Allow...), cfg.ipAllow...); len(allow) > 0 {
		ipOpts = append(ipOpts, application.WithAllowList(allow...))
	}
	ipgate, err := application.NewIPGate(deny, ipOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("ip gate")
	}

	auth := application.NewAuthService(sessions,
		application.WithSessionStore(sessions),
		application.WithAuthLogger(logger),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks := infra.MultiSink{infra.NewLogSink(logger, cfg.auditLogRate, cfg.auditLogBurst)}
	if cfg.metricsEnabled {
		ps, err := infra.NewPrometheusSink(reg)
		if err != nil {
			logger.Fatal().Err(err).Msg("prometheus sink")
		}
		sinks = append(sinks, ps)
	}
	if stats != nil {
		sinks = append(sinks, stats)
	}
	if cfg.natsURL != "" {
		nc, err := connectNATS(cfg.natsURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer func() { _ = nc.Drain() }()
		sinks = append(sinks, infra.NewNATSSink(nc, cfg.natsSubject))
	}

	gw, err := admission.New(
		admission.WithRateLimiter(limiter),
		admission.WithRiskEngine(risk),
		admission.WithIPGate(ipgate),
		admission.WithAuth(auth),
		admission.WithAuditSink(sinks),
		admission.WithTrustedProxies(proxies),
		admission.WithIdentityFunc(admission.HeaderIdentity(cfg.userHeader, proxies)),
		admission.WithMaxBodyBytes(cfg.maxBodyBytes),
		admission.WithChallengeMode(admission.ChallengeMode(cfg.challengeMode)),
		admission.WithEnvironment(cfg.env),
		admission.WithDisabledPipeline(cfg.disablePipeline),
		admission.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		admission.WriteError(w, domain.ErrUpstreamUnavailable)
	}

	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		admission.SetSecurityHeaders(w.Header())
		admission.WriteError(w, domain.ErrMethodNotAllowed)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.metricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	if stats != nil {
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			totals, err := stats.Totals(req.Context())
			if err != nil {
				admission.WriteError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(totals)
		})
	}
	for _, rs := range pf.Routes {
		route := admission.Route{
			Endpoint:    rs.Endpoint,
			RequireAuth: rs.RequireAuth,
			Permissions: rs.Permissions,
			Sensitive:   rs.Sensitive,
			Operation:   rs.Operation,
		}
		h := gw.Protect(route)(proxy)
		if len(rs.Methods) == 0 {
			r.Handle(rs.Pattern, h)
			continue
		}
		for _, m := range rs.Methods {
			r.Method(strings.ToUpper(m), rs.Pattern, h)
		}
	}
	r.Handle("/*", gw.Protect(admission.Route{})(proxy))

	h := admission.StripForwardedHeaders(proxies, cfg.userHeader)(r)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", cfg.listenAddr).
		Str("upstream", target.String()).
		Str("env", cfg.env).
		Str("challenge", cfg.challengeMode).
		Strs("trusted_proxies", cfg.trustedProxies).
		Bool("redis", cfg.redisAddr != "").
		Bool("nats", cfg.natsURL != "").
		Int("routes", len(pf.Routes)).
		Int("concurrency_max", cfg.concurrencyMax).
		Msg("gateway listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// connectNATS não falha se o servidor ainda não subiu: os eventos publicados
// antes disso ficam no buffer de reconexão do cliente.
func connectNATS(addr string, logger zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(addr,
		nats.Name("admission-gateway"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}
