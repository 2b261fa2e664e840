package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gigboard/internal/domain"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(userID, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, check func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatchFansOutToAllSessions(t *testing.T) {
	hub := NewHub(Options{})
	srv := newHubServer(t, hub)

	c1 := dial(t, srv, "u1")
	c2 := dial(t, srv, "u1")
	other := dial(t, srv, "u2")
	waitFor(t, func() bool { return hub.Connections("u1") == 2 && hub.Connections("u2") == 1 }, "registrations")

	note := domain.Notification{Type: domain.NotifyHired, GigID: "g1", Message: "You have been hired for X"}
	hub.Dispatch("u1", note)

	for _, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got domain.Notification
		if err := c.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != note {
			t.Fatalf("got %+v, want %+v", got, note)
		}
	}

	// u2 heard nothing
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray domain.Notification
	if err := other.ReadJSON(&stray); err == nil {
		t.Fatalf("unexpected notification for u2: %+v", stray)
	}
}

func TestDispatchToAbsentUserIsNoop(t *testing.T) {
	hub := NewHub(Options{})
	hub.Dispatch("ghost", domain.Notification{Type: domain.NotifyRejected, GigID: "g1"})
}

func TestDispatchNeverBlocks(t *testing.T) {
	hub := NewHub(Options{SessionBuffer: 1})
	srv := newHubServer(t, hub)
	dial(t, srv, "slow")
	waitFor(t, func() bool { return hub.Connections("slow") == 1 }, "registration")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Dispatch("slow", domain.Notification{Type: domain.NotifyRejected, GigID: "g1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a full session buffer")
	}
}

func TestSessionDeregistersOnClose(t *testing.T) {
	hub := NewHub(Options{})
	srv := newHubServer(t, hub)
	c := dial(t, srv, "u1")
	waitFor(t, func() bool { return hub.Connections("u1") == 1 }, "registration")

	c.Close()
	waitFor(t, func() bool { return hub.Connections("u1") == 0 }, "deregistration")

	// dispatch after disconnect is a no-op
	hub.Dispatch("u1", domain.Notification{Type: domain.NotifyHired, GigID: "g1"})
}
