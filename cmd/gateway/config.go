package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string
	env         string
	logLevel    string
	logFormat   string
	policyFile  string

	userHeader      string
	trustedProxies  []string
	challengeMode   string
	disablePipeline bool
	maxBodyBytes    int64
	ipDeny          []string
	ipAllow         []string

	concurrencyMax     int
	concurrencyTimeout time.Duration

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	sessionPrefix string

	auditLogRate  float64
	auditLogBurst int

	statsEnabled         bool
	statsTTL             time.Duration
	statsBucket          string
	statsTrackIdentities bool

	natsURL     string
	natsSubject string

	metricsEnabled bool
}

// readConfig lê o ambiente; um .env no diretório atual é carregado antes, sem
// sobrescrever variáveis já definidas.
func readConfig() (config, error) {
	_ = godotenv.Load()

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.env = getenvDefault("APP_ENV", "development")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "json")
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.userHeader = getenvDefault("USER_HEADER", admission.DefaultUserHeader)
	// IPs/CIDRs cujos X-Forwarded-For, X-Real-IP e USER_HEADER valem; "*" confia em todos
	cfg.trustedProxies = getenvList("TRUSTED_PROXIES")
	cfg.challengeMode = getenvDefault("CHALLENGE_MODE", string(admission.ChallengeLog))
	cfg.disablePipeline = getenvBoolDefault("DISABLE_PIPELINE", false)
	cfg.maxBodyBytes = int64(getenvIntDefault("MAX_BODY_BYTES", int(admission.MaxBodyBytes)))
	cfg.ipDeny = getenvList("IP_DENY")
	cfg.ipAllow = getenvList("IP_ALLOW")

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	// sem REDIS_ADDR os stores ficam em memória (uma instância só)
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "admission")
	cfg.sessionPrefix = getenvDefault("SESSION_PREFIX", "session")

	cfg.auditLogRate = getenvFloatDefault("AUDIT_LOG_RATE", 50)
	cfg.auditLogBurst = getenvIntDefault("AUDIT_LOG_BURST", 100)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackIdentities = getenvBoolDefault("STATS_TRACK_IDENTITIES", false)

	cfg.natsURL = os.Getenv("NATS_URL")
	cfg.natsSubject = getenvDefault("NATS_SUBJECT_PREFIX", "admission.audit")

	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if cfg.maxBodyBytes <= 0 {
		return config{}, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	switch admission.ChallengeMode(cfg.challengeMode) {
	case admission.ChallengeLog, admission.ChallengeEnforce:
	default:
		return config{}, fmt.Errorf("CHALLENGE_MODE must be %q or %q", admission.ChallengeLog, admission.ChallengeEnforce)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvList lê uma lista separada por vírgula, ignorando itens vazios.
func getenvList(k string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(k), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
