package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"grid_bot/internal/modules/health/service"
)

type lots int

func (l lots) Len() int { return int(l) }

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadyzFollowsState(t *testing.T) {
	st := service.NewState()
	mux := NewMux(st, lots(0))

	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before start: %d", rec.Code)
	}
	st.SetReady(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("after start: %d", rec.Code)
	}
	st.SetHalted(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("after kill-switch: %d", rec.Code)
	}
}

func TestHealthzReportsState(t *testing.T) {
	st := service.NewState()
	st.SetReady(true)
	st.SetWSConnected(true)
	st.TouchTick(time.Unix(1700000000, 0))
	mux := NewMux(st, lots(3))

	rec := get(t, mux, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	var body struct {
		Ready         bool  `json:"ready"`
		WSConnected   bool  `json:"wsConnected"`
		OpenPositions int   `json:"openPositions"`
		LastTickUnix  int64 `json:"lastTickUnix"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ready || !body.WSConnected || body.OpenPositions != 3 || body.LastTickUnix != 1700000000 {
		t.Fatalf("body = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, NewMux(service.NewState(), lots(0)), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
