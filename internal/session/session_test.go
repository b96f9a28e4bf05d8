package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saidsurucu/tvstream/internal/config"
	"github.com/saidsurucu/tvstream/internal/dispatch"
	"github.com/saidsurucu/tvstream/internal/metrics"
	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/store"
	"github.com/saidsurucu/tvstream/internal/wire"
)

type fakeAuth struct{}

func (fakeAuth) AuthToken() string    { return "tok-1" }
func (fakeAuth) SessionCookie() string { return "" }

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeServer records every decoded method it receives and lets the test
// drive heartbeats and disconnects.
type fakeServer struct {
	mu         sync.Mutex
	methods    []string
	heartbeats []string
	conns      []*websocket.Conn
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go func() {
		var buf []byte
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			buf = append(buf, msg...)
			frames, remainder, decodeErr := wire.Decode(buf)
			buf = remainder
			if decodeErr != nil {
				return
			}
			for _, fr := range frames {
				if fr.Heartbeat != nil {
					f.mu.Lock()
					f.heartbeats = append(f.heartbeats, fr.Heartbeat.Counter)
					f.mu.Unlock()
					continue
				}
				if fr.Message == nil {
					continue
				}
				f.mu.Lock()
				f.methods = append(f.methods, fr.Message.Method)
				f.mu.Unlock()
			}
		}
	}()
}

func (f *fakeServer) methodsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.methods))
	copy(out, f.methods)
	return out
}

func newTestSession(t *testing.T, srv *httptest.Server) (*Session, *fakeServer) {
	t.Helper()
	fs := &fakeServer{}
	srv.Config.Handler = http.HandlerFunc(fs.handler)

	cfg := &config.Config{
		Endpoint:             "ws" + strings.TrimPrefix(srv.URL, "http"),
		Origin:               "https://example.com",
		ReconnectCapSeconds:  1,
		MaxReconnectAttempts: 5,
	}
	reg := registry.New()
	st := store.New(nil)
	disp := dispatch.New(reg, st, nil, nil)
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	s := New(cfg, fakeAuth{}, reg, st, disp, m, health, nil)
	return s, fs
}

func TestBootstrapSequenceOrder(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	s, fs := newTestSession(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Connect(ctx, 3*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(fs.methodsSnapshot()) >= 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := fs.methodsSnapshot()
	want := []string{"set_auth_token", "quote_create_session", "quote_set_fields", "chart_create_session"}
	if len(got) < len(want) {
		t.Fatalf("got %d bootstrap methods, want at least %d: %v", len(got), len(want), got)
	}
	for i, m := range want {
		if got[i] != m {
			t.Errorf("bootstrap step %d = %q, want %q (full: %v)", i, got[i], m, got)
		}
	}
	if !s.IsConnected() {
		t.Errorf("expected session to report connected after bootstrap")
	}
}

func TestHeartbeatEcho(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	s, fs := newTestSession(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Connect(ctx, 3*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	time.Sleep(50 * time.Millisecond)
	fs.mu.Lock()
	var conn *websocket.Conn
	if len(fs.conns) > 0 {
		conn = fs.conns[0]
	}
	fs.mu.Unlock()
	if conn == nil {
		t.Fatalf("server never accepted a connection")
	}
	if err := conn.WriteMessage(websocket.TextMessage, wire.EncodeHeartbeat(wire.Heartbeat{Counter: "7"})); err != nil {
		t.Fatalf("failed to send heartbeat: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !s.LastHeartbeat().IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.LastHeartbeat().IsZero() {
		t.Errorf("expected heartbeat echo to be observed by the session")
	}

	var echoed []string
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		echoed = append([]string(nil), fs.heartbeats...)
		fs.mu.Unlock()
		if len(echoed) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(echoed) != 1 || echoed[0] != "7" {
		t.Errorf("server received heartbeat echoes %v, want [7]", echoed)
	}
}

func TestSubscribeChartRejectsBadInterval(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()
	s, _ := newTestSession(t, srv)

	if _, err := s.SubscribeChart("THYAO", "3m", "BIST"); err == nil {
		t.Errorf("expected an error for an unsupported interval")
	}
}

func TestCreateStudyRequiresExistingChart(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()
	s, _ := newTestSession(t, srv)

	key := registry.StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	if _, err := s.CreateStudy(key, "STD;RSI", model.Descriptor{WireID: "STD;RSI"}, nil); err == nil {
		t.Errorf("expected add-study without a prior chart subscription to fail")
	}
}
