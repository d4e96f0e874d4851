package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/deskwire/internal/observability"
	"github.com/danmuck/deskwire/internal/testutil/testlog"
)

type stubSource struct {
	ready    bool
	sessions []SessionInfo
}

func (s stubSource) Ready() bool             { return s.ready }
func (s stubSource) Sessions() []SessionInfo { return s.sessions }

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthRouteReportsOK(t *testing.T) {
	testlog.Start(t)

	srv := New(Config{App: "bridge-test"}, stubSource{ready: true})
	rr := get(t, srv, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status got=%d want=%d body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["app"] != "bridge-test" {
		t.Fatalf("unexpected health body: %#v", body)
	}
}

func TestReadyRouteTracksSource(t *testing.T) {
	testlog.Start(t)

	srv := New(Config{App: "bridge-test"}, stubSource{ready: false})
	if rr := get(t, srv, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("not-ready status got=%d want=%d", rr.Code, http.StatusServiceUnavailable)
	}

	srv = New(Config{App: "bridge-test"}, stubSource{ready: true})
	if rr := get(t, srv, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("ready status got=%d want=%d", rr.Code, http.StatusOK)
	}
}

func TestSessionsRouteListsLiveSessions(t *testing.T) {
	testlog.Start(t)

	src := stubSource{
		ready: true,
		sessions: []SessionInfo{
			{Name: "sess.1", Username: "alice", Remote: "10.0.0.5:48310", Width: 800, Height: 600, Established: true, StartedAt: time.Now()},
			{Name: "sess.2", Remote: "10.0.0.6:48311", StartedAt: time.Now()},
		},
	}
	srv := New(Config{App: "bridge-test"}, src)

	rr := get(t, srv, "/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("sessions status got=%d want=%d", rr.Code, http.StatusOK)
	}

	var body struct {
		Count    int           `json:"count"`
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 2 || len(body.Sessions) != 2 {
		t.Fatalf("session count got=%d want=2 body=%s", body.Count, rr.Body.String())
	}
	if body.Sessions[0].Name != "sess.1" || body.Sessions[0].Username != "alice" {
		t.Fatalf("unexpected first session: %+v", body.Sessions[0])
	}
	if !body.Sessions[0].Established || body.Sessions[1].Established {
		t.Fatalf("establishment flags wrong: %+v", body.Sessions)
	}
}

func TestMetricsRouteServesPrometheusText(t *testing.T) {
	testlog.Start(t)

	observability.SessionOpened("server")
	observability.SessionClosed("server")

	srv := New(Config{App: "bridge-test"}, stubSource{ready: true})
	rr := get(t, srv, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status got=%d want=%d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "deskwire_session_active") {
		t.Fatalf("metrics body missing session gauge:\n%s", rr.Body.String()[:min(len(rr.Body.String()), 512)])
	}
}
