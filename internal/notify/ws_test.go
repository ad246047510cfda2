package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestStream_WritesEventsAsJSON(t *testing.T) {
	h := NewHub(allowAll(), 4)
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, err := h.Subscribe(context.Background(), "u1", "u1", "c1")
		if err != nil {
			_ = conn.Close()
			return
		}
		close(ready)
		Stream(context.Background(), conn, sub, zerolog.Nop())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("server never subscribed")
	}
	h.Publish("u1", "c1", NewErrorOccurred("c1", "try again", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Event string `json:"event"`
		Data  struct {
			ChatID string `json:"chat_id"`
			Error  string `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if got.Event != "error.occurred" || got.Data.ChatID != "c1" || got.Data.Error != "try again" {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestStream_ClientDisconnectReleasesSubscription(t *testing.T) {
	h := NewHub(allowAll(), 4)
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, _ := h.Subscribe(context.Background(), "u1", "u1", "c1")
		Stream(context.Background(), conn, sub, zerolog.Nop())
		close(done)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after disconnect")
	}
	if h.Subscribers("u1", "c1") != 0 {
		t.Fatal("subscription leaked")
	}
}
