package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
)

func TestAnalyzeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, analyzePath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req models.AnalysisRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.ModeEvent, req.Mode)

		_ = json.NewEncoder(w).Encode(models.AnalysisResult{Outcome: models.OutcomeNoTrade, Confidence: 0.7})
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/", APIKey: "secret", Timeout: time.Second}, nil)
	require.True(t, c.Capable())

	res, err := c.Analyze(context.Background(), models.AnalysisRequest{Symbol: "BTCUSDT", Mode: models.ModeEvent})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, models.OutcomeNoTrade, res.Outcome)
}

func TestAnalyzeRetriesThenOverload(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, MaxRetries: 2, RetryBackoff: time.Millisecond}, nil)
	_, err := c.Analyze(context.Background(), models.AnalysisRequest{Symbol: "ETHUSDT"})

	var overload *models.OverloadError
	require.True(t, errors.As(err, &overload))
	assert.Equal(t, http.StatusServiceUnavailable, overload.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnalyzeClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, MaxRetries: 3, RetryBackoff: time.Millisecond}, nil)
	_, err := c.Analyze(context.Background(), models.AnalysisRequest{Symbol: "ETHUSDT"})
	require.Error(t, err)

	var overload *models.OverloadError
	assert.False(t, errors.As(err, &overload))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, NewClient(Config{URL: srv.URL}, nil).Capable())
}
