package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/opusloop/internal/pipeline"
)

type fakeStatus struct {
	state pipeline.State
	stats pipeline.Stats
}

func (f *fakeStatus) State() pipeline.State { return f.state }
func (f *fakeStatus) Stats() pipeline.Stats { return f.stats }

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// serve routes one GET through a mux built from h.
func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeProbe(t *testing.T, rec *httptest.ResponseRecorder) probe {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var p probe
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return p
}

func TestHealthz(t *testing.T) {
	t.Run("without status", func(t *testing.T) {
		rec := serve(t, New([]Checker{{Name: "pipeline", Check: failWith("down")}}), "/healthz")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 even with failing checkers", rec.Code)
		}
		if p := decodeProbe(t, rec); p.Status != "ok" || p.State != "" || p.Checks != nil {
			t.Errorf("body = %+v", p)
		}
	})
	t.Run("with status", func(t *testing.T) {
		rec := serve(t, New(nil, WithStatus(&fakeStatus{state: pipeline.Stopped})), "/healthz")
		if p := decodeProbe(t, rec); p.State != "stopped" {
			t.Errorf("state = %q, want stopped", p.State)
		}
	})
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "pipeline", Check: pass}, {Name: "devices", Check: pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"pipeline": "ok", "devices": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "pipeline", Check: failWith("pipeline is idle")}, {Name: "devices", Check: pass}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"pipeline": "fail: pipeline is idle", "devices": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "capture", Check: failWith("no device")}, {Name: "playback", Check: failWith("busy")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"capture": "fail: no device", "playback": "fail: busy"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, New(tc.checkers), "/readyz")
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			p := decodeProbe(t, rec)
			if p.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", p.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := p.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequestFails(t *testing.T) {
	h := New([]Checker{{Name: "quick", Check: pass}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestReadyz_FollowsPipelineState(t *testing.T) {
	src := &fakeStatus{state: pipeline.Idle}
	h := New([]Checker{PipelineChecker(src)}, WithStatus(src))

	steps := []struct {
		state pipeline.State
		code  int
	}{
		{pipeline.Idle, http.StatusServiceUnavailable},
		{pipeline.Ready, http.StatusOK},
		{pipeline.Running, http.StatusOK},
		{pipeline.Stopped, http.StatusServiceUnavailable},
	}
	for _, st := range steps {
		src.state = st.state
		rec := serve(t, h, "/readyz")
		if rec.Code != st.code {
			t.Errorf("%s: code = %d, want %d", st.state, rec.Code, st.code)
		}
		p := decodeProbe(t, rec)
		if p.State != st.state.String() {
			t.Errorf("%s: body state = %q", st.state, p.State)
		}
		if st.code != http.StatusOK && p.Checks["pipeline"] != "fail: pipeline is "+st.state.String() {
			t.Errorf("%s: pipeline check = %q", st.state, p.Checks["pipeline"])
		}
	}
}

func TestStatusz(t *testing.T) {
	src := &fakeStatus{
		state: pipeline.Running,
		stats: pipeline.Stats{State: pipeline.Running, Session: "abc", Captured: 7, Played: 6, Dropped: 1},
	}

	rec := serve(t, New(nil, WithStatus(src)), "/statusz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	want := map[string]any{
		"state":    "running",
		"session":  "abc",
		"captured": float64(7),
		"played":   float64(6),
		"dropped":  float64(1),
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestStatusz_NotConfigured(t *testing.T) {
	if rec := serve(t, New(nil), "/statusz"); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestRegister_OnlyGET(t *testing.T) {
	mux := http.NewServeMux()
	New(nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}
