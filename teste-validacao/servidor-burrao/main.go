package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Upstream "burro" para validar o gateway na mão: devolve o que recebeu,
// incluindo os headers que o gateway repassa.
//
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
//	curl -H 'X-User-ID: u1' localhost:8080/api/qualquer
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	r := chi.NewRouter()
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Msg("request received")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method":    r.Method,
			"path":      r.URL.Path,
			"requestId": r.Header.Get("X-Request-ID"),
			"userId":    r.Header.Get("X-User-ID"),
			"forwarded": r.Header.Get("X-Forwarded-For"),
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info().Str("addr", addr).Msg("validation upstream listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
