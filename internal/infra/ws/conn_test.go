package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/realtime"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// feedServer answers every subscribe with a garbage frame followed by one
// message of the subscribed channel.
func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var env realtime.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type != "subscribe" {
				continue
			}
			var sub struct {
				Channel string `json:"channel"`
			}
			_ = json.Unmarshal(env.Data, &sub)

			_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
			_ = conn.WriteJSON(realtime.Envelope{
				Type:      sub.Channel,
				Data:      json.RawMessage(`{"height":42}`),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialer_SendReceive(t *testing.T) {
	srv := feedServer(t)
	d := NewDialer(Config{URL: wsURL(srv)})

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	err = conn.Send(realtime.Envelope{Type: "subscribe", Data: json.RawMessage(`{"id":"1","channel":"blockHeight"}`)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	env, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Type != domain.SubscriptionBlockHeight || string(env.Data) != `{"height":42}` {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewDialer(Config{URL: wsURL(srv), HandshakeTimeout: time.Second})
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestConn_ReceiveFailsAfterServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	conn, err := NewDialer(Config{URL: wsURL(srv)}).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Receive(); err == nil {
		t.Fatal("expected error after server close")
	}
}

func TestManagerOverWebSocket(t *testing.T) {
	srv := feedServer(t)
	m := realtime.New(NewDialer(Config{URL: wsURL(srv)}))
	defer m.Disconnect()

	got := make(chan string, 1)
	_, err := m.Subscribe(realtime.Subscription{
		Type: domain.SubscriptionBlockHeight,
		Handler: func(env realtime.Envelope) error {
			got <- string(env.Data)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case data := <-got:
		if data != `{"height":42}` {
			t.Errorf("handler got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}
