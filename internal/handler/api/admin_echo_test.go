package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/repository"
	"GateKeeper/internal/service/event"
	"GateKeeper/internal/service/gate"
	"GateKeeper/internal/service/lock"
	"GateKeeper/internal/service/regime"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/internal/usecase"
	"GateKeeper/pkg/cache"
	xhttp "GateKeeper/pkg/http"
	"GateKeeper/pkg/metrics"
)

type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (a *stubAnalyzer) Analyze(_ context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return &models.AnalysisResult{Symbol: req.Symbol, Outcome: models.OutcomeNoTrade}, nil
}

type stubBroker struct{}

func (stubBroker) Submit(context.Context, models.OrderIntent) error { return nil }

type adminFixture struct {
	srv      *xhttp.Server
	locks    *lock.Manager
	regimes  *regime.Registry
	analyzer *stubAnalyzer
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	rec := metrics.Nop{}

	gcfg := gate.DefaultConfig()
	gcfg.Cooldown = 0
	g := gate.New(repository.NewCacheGateStateStore(mem, "gate:state", time.Second), nil, gcfg, nil, rec)
	g.Register(usecase.AnalysisGate, gate.Spec{})
	th := throttle.New(throttle.DefaultConfig(), nil, nil, nil, rec)
	locks := lock.NewManager(repository.NewCacheLockStore(mem, time.Hour), nil, lock.DefaultConfig(), nil, rec)
	regimes := regime.NewRegistry(regime.DefaultConfig(), nil, rec)
	analyzer := &stubAnalyzer{}

	runner := usecase.NewCycleRunner(
		usecase.CycleConfig{Owner: "proc-a", EventLockTTL: time.Minute, AnalysisCost: decimal.RequireFromString("0.02")},
		regimes,
		event.NewDetector(event.DefaultConfig(), nil, rec),
		locks,
		g,
		analyzer,
		usecase.NewOrderGuard(th, stubBroker{}, nil, rec),
		nil,
		rec,
	)

	h := NewAdminHandler(nil, g, th, locks, regimes, runner)
	srv := xhttp.NewServer([]xhttp.Handler{h}, xhttp.WithMetricsPath(""))
	return &adminFixture{srv: srv, locks: locks, regimes: regimes, analyzer: analyzer}
}

func (f *adminFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "data is %T", body["data"])
	return d
}

func TestGateEndpoints(t *testing.T) {
	f := newAdminFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/gate/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"analysis"}, data(t, body)["gates"])

	code, _ = f.do(t, http.MethodPost, "/api/gate/check", `{"cost":0.02}`)
	assert.Equal(t, http.StatusBadRequest, code, "dedup_key is required")

	code, body = f.do(t, http.MethodPost, "/api/gate/check", `{"dedup_key":"k1","cost":0.02}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, body)["allowed"])
	assert.Equal(t, "OK", data(t, body)["reason"])

	code, body = f.do(t, http.MethodPost, "/api/gate/check", `{"gate":"trading","dedup_key":"k1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, body)["allowed"])
	assert.Equal(t, "NO_CAPABILITY", data(t, body)["reason"])
}

func TestThrottleEndpoints(t *testing.T) {
	f := newAdminFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/throttle/check", `{"action":"flip"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/throttle/check", `{"action":"open"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, body)["ok"])

	code, body = f.do(t, http.MethodPost, "/api/throttle/clear-halt", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, body)["cleared"], "nothing was halted")

	code, body = f.do(t, http.MethodGet, "/api/throttle/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, body)["halted"])
}

func TestLockEndpoints(t *testing.T) {
	f := newAdminFixture(t)
	ok, _ := f.locks.Acquire(context.Background(), "event:BTC:abc", time.Minute, "proc-a", "event", "")
	require.True(t, ok)

	code, body := f.do(t, http.MethodGet, "/api/locks/event:BTC:abc", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, body)["locked"])

	code, _ = f.do(t, http.MethodDelete, "/api/locks/event:BTC:abc", "")
	assert.Equal(t, http.StatusBadRequest, code, "owner is required")

	code, _ = f.do(t, http.MethodDelete, "/api/locks/event:BTC:abc?owner=proc-b", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, http.MethodDelete, "/api/locks/event:BTC:abc?owner=proc-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, body)["released"])

	locked, _ := f.locks.IsLocked(context.Background(), "event:BTC:abc")
	assert.False(t, locked)
}

func TestRegimeEndpoint(t *testing.T) {
	f := newAdminFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/regime/BTCUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.regimes.Classify(models.FeatureSnapshot{Symbol: "BTCUSDT", Price: 100, BandWidth: 0.02}, time.Now())
	code, body := f.do(t, http.MethodGet, "/api/regime/BTCUSDT", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, data(t, body)["current"])
}

func TestAnalysisEndpoint(t *testing.T) {
	f := newAdminFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/analysis", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/analysis", `{"symbol":"ETHUSDT"}`)
	assert.Equal(t, http.StatusNotFound, code, "no snapshot seen yet")

	code, body := f.do(t, http.MethodPost, "/api/analysis",
		`{"symbol":"ETHUSDT","snapshot":{"symbol":"ETHUSDT","price":2500,"vol_ratio":1,"volume_ratio":1,"band_width":0.02}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, usecase.StageAnalyzed, data(t, body)["stage"])
	assert.Equal(t, 1, f.analyzer.calls)
}
