// Package server exposes the dispatcher over HTTP so a workflow engine can
// drive invocations.
package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/hmacauth"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

const maxEventBytes = 1 << 20

// Invoker runs one invocation and returns the state for the next one.
type Invoker interface {
	Handle(ctx context.Context, ev workflow.Event) *workflow.State
	Estimate(ctx context.Context, ev workflow.Event) *workflow.State
}

type Server struct {
	cfg        *config.AppConfig
	invoker    Invoker
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	dbHealthFn func(context.Context) error
}

// NewServer wires the routes. The store is only consulted by the health
// check, when it can be pinged.
func NewServer(cfg *config.AppConfig, invoker Invoker, store jobstore.Store) *Server {
	s := &Server{
		cfg:     cfg,
		invoker: invoker,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/invocations", s.hmac.Middleware(s.invocationHandler("", invoker.Handle)))
	mux.Handle("/api/v1/estimates", s.hmac.Middleware(s.invocationHandler("estimate", invoker.Estimate)))
	mux.Handle("/api/v1/metrics", s.hmac.Middleware(s.metrics.handler()))
	mux.Handle("/api/v1/health", s.hmac.Middleware(http.HandlerFunc(s.handleHealth)))

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// invocationHandler decodes an event, runs it and replies with the
// returned state. Failures of the invocation itself are reported in the
// state, so any decoded event gets a 200. An empty label uses the
// request's operation.
func (s *Server) invocationHandler(label string, run func(context.Context, workflow.Event) *workflow.State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			s.metrics.incRejected("body")
			http.Error(w, "could not read body", http.StatusBadRequest)
			return
		}
		ev, err := workflow.DecodeEvent(raw)
		if err != nil {
			s.metrics.incRejected("decode")
			http.Error(w, "invalid json payload", http.StatusBadRequest)
			return
		}

		operation := label
		if operation == "" {
			operation = "unknown"
			if req := ev.Detail.Payload; req != nil && req.Operation != "" {
				operation = string(req.Operation)
			}
		}

		start := time.Now()
		state := run(r.Context(), ev)
		s.metrics.observe(operation, string(state.Status), time.Since(start))

		writeJSON(w, http.StatusOK, state)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true

	dbInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(ctx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			healthy = false
		} else {
			dbInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	resp := struct {
		Status      string      `json:"status"`
		Environment string      `json:"environment"`
		Database    interface{} `json:"database"`
	}{
		Status:      "healthy",
		Environment: s.cfg.Service.Environment,
		Database:    dbInfo,
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)

		logger := log.With().Str("requestId", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}
