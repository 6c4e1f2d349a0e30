package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/interbank/pkg/gateway"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(&Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(&Config{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Prometheus exposition output")
	}
}

func TestEventsDisabledWithoutHub(t *testing.T) {
	srv := NewServer(&Config{})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without an event hub, got %d", rec.Code)
	}
}

func TestEventBroadcast(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	srv := NewServer(&Config{Events: hub})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Registration happens in the upgrade handler before it returns, but
	// give the server a moment under load.
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	sent := gateway.PaymentEvent{
		TxnID:    "txn-1",
		FromBank: "bank_a",
		ToBank:   "bank_b",
		Amount:   30,
		Success:  true,
		Message:  "Payment Successful",
	}
	hub.PaymentProcessed(sent)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got gateway.PaymentEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got != sent {
		t.Errorf("event mismatch: got %+v, want %+v", got, sent)
	}
}

func TestBrokenSubscriberDropped(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	srv := NewServer(&Config{Events: hub})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	conn.Close()

	// Broadcasting to the closed connection evicts it.
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() > 0 && time.Now().Before(deadline) {
		hub.PaymentProcessed(gateway.PaymentEvent{TxnID: "txn-1"})
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("expected broken subscriber to be dropped, got %d", hub.SubscriberCount())
	}
}
