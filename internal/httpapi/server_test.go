package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/engine"
	"github.com/crunkdevs/predictor-sub000/internal/pattern"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/scorer"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
	"github.com/crunkdevs/predictor-sub000/internal/window"
	"github.com/crunkdevs/predictor-sub000/pkg/cache"
)

func newTestServer(t *testing.T) (*Server, *storetest.Mem) {
	t.Helper()
	cfg := config.Default()

	mem := storetest.NewMem(time.UTC, cfg.Window.FirstPredictDelay)
	provider := stats.NewComputed(mem.Outcomes(), time.UTC)
	mc := cache.NewMemory()

	eng := engine.New(engine.Deps{
		Store:     mem,
		Lease:     store.NewMutexLease(),
		Stats:     provider,
		Windows:   window.NewManager(mem, provider, cfg.Window, time.UTC),
		Detector:  pattern.NewDetector(provider, cfg.Pattern),
		Deviation: signals.NewDeviationDetector(provider, mc, cfg.Signals),
		Reversal:  signals.NewReversalDetector(provider, mc, cfg.Signals),
		Matcher:   reactivation.NewMatcher(mem, provider, cfg.Reactivation),
		Scorer:    scorer.NewScorer(provider, cfg.Scoring),
	}, cfg)

	return NewServer(eng, ":0"), mem
}

func (s *Server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestOutcomeIngestion(t *testing.T) {
	s, mem := newTestServer(t)

	body, err := json.Marshal(map[string]interface{}{"value": 7})
	require.NoError(t, err)
	rec := s.do(httptest.NewRequest(http.MethodPost, "/outcomes", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	outs, err := mem.Outcomes().RecentOutcomes(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, 7, outs[0].Value)
}

func TestOutcomeRejectsBadValue(t *testing.T) {
	s, _ := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/outcomes", bytes.NewReader([]byte(`{"value":99}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/outcomes", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestPredictionNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/windows/current/prediction", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentWindow(t *testing.T) {
	s, _ := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/windows/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Window struct {
			Day   string `json:"day"`
			Index int    `json:"index"`
		} `json:"window"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Window.Day)
	assert.GreaterOrEqual(t, out.Window.Index, 0)
	assert.Less(t, out.Window.Index, 12)
}
