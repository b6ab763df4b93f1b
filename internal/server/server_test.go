package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/dispatcher"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/gas"
	"github.com/bws-projects/bws-api-nft-zk/internal/hmacauth"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/pricing"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

const secret = "test-secret"

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, solution, network, version string) (config.Network, error) {
	return config.Network{
		Solution:       solution,
		Name:           network,
		Version:        version,
		NativeSymbol:   "ETH",
		GasLimitMargin: gas.DefaultMargin,
		ReceiptTimeout: time.Second,
	}, nil
}

type pingStore struct {
	*jobstore.MemoryStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, store jobstore.Store) *Server {
	t.Helper()
	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HMACSecret:    secret,
			HMACClockSkew: time.Minute,
			Environment:   "test",
		},
	}
	d := dispatcher.New(dispatcher.Deps{
		Configs:     staticResolver{},
		Connector:   chain.FakeConnector{Chain: chain.NewFake()},
		Jobs:        store,
		Gas:         gas.NewEngine(pricing.Static{"ETH": 2000}),
		Pinner:      &pinning.Fake{ContentID: "Qm123"},
		Publisher:   &events.Recorder{},
		Environment: "test",
	})
	return NewServer(cfg, d, store)
}

func memoryStore(t *testing.T) *jobstore.MemoryStore {
	t.Helper()
	store := jobstore.NewMemoryStore()
	require.NoError(t, store.Register(context.Background(), "J1"))
	return store
}

func signed(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	hmacauth.SignRequest(req, secret, body, time.Now())
	return req
}

func event(t *testing.T, op workflow.Operation) []byte {
	t.Helper()
	body, err := json.Marshal(workflow.NewEvent(&workflow.Request{
		Solution:  "BWS.NFT.zK",
		Network:   "sepolia",
		Version:   "1",
		Operation: op,
		JobID:     "J1",
		UserID:    "U1",
		Parameters: workflow.Parameters{
			Image: "https://example.com/a.png",
		},
	}, nil))
	require.NoError(t, err)
	return body
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) workflow.State {
	t.Helper()
	var state workflow.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func TestInvocationReturnsState(t *testing.T) {
	store := memoryStore(t)
	srv := newTestServer(t, store)

	rec := serve(srv, signed(t, http.MethodPost, "/api/v1/invocations", event(t, workflow.OperationList)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	state := decodeState(t, rec)
	assert.Equal(t, workflow.StatusFinished, state.Status)
	assert.Equal(t, 1, state.Count)

	status, err := store.GetStatus(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, status)

	metrics := serve(srv, signed(t, http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `nftcore_invocations_total{operation="list",status="FINISHED"} 1`)
	assert.Contains(t, metrics.Body.String(), `nftcore_invocation_duration_seconds_count{operation="list"} 1`)
}

func TestInvocationMintSubmits(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))

	rec := serve(srv, signed(t, http.MethodPost, "/api/v1/invocations", event(t, workflow.OperationNew)))
	require.Equal(t, http.StatusOK, rec.Code)

	state := decodeState(t, rec)
	assert.Equal(t, workflow.StatusRunning, state.Status)
	assert.Equal(t, "Qm123", state.ContentID)
	assert.NotEmpty(t, state.TxHash)
}

func TestInvocationFailureIsReportedInState(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))

	rec := serve(srv, signed(t, http.MethodPost, "/api/v1/invocations", event(t, "burn")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StatusFailed, decodeState(t, rec).Status)
}

func TestEstimateRoute(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))

	rec := serve(srv, signed(t, http.MethodPost, "/api/v1/estimates", event(t, workflow.OperationNew)))
	require.Equal(t, http.StatusOK, rec.Code)

	state := decodeState(t, rec)
	assert.Equal(t, workflow.StatusFinished, state.Status)
	require.NotNil(t, state.Estimates)
	assert.Equal(t, uint64(120000), state.Estimates.GasUnits)

	metrics := serve(srv, signed(t, http.MethodGet, "/api/v1/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `nftcore_invocations_total{operation="estimate",status="FINISHED"} 1`)
}

func TestInvocationRejectsUnsigned(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invocations", bytes.NewReader(event(t, workflow.OperationList)))

	rec := serve(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvocationRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))

	rec := serve(srv, signed(t, http.MethodPost, "/api/v1/invocations", []byte(`{"detail":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvocationRejectsGet(t *testing.T) {
	srv := newTestServer(t, memoryStore(t))

	rec := serve(srv, signed(t, http.MethodGet, "/api/v1/invocations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, pingStore{MemoryStore: memoryStore(t)})

	rec := serve(srv, signed(t, http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestHealthDegradedWhenStoreDown(t *testing.T) {
	srv := newTestServer(t, pingStore{MemoryStore: memoryStore(t), err: errors.New("connection refused")})

	rec := serve(srv, signed(t, http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
