package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSlack_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	if err := s.Send(context.Background(), "Title", "Hello"); err != nil {
		t.Fatalf("send err: %v", err)
	}
	if got != "*Title*\nHello" {
		t.Fatalf("payload not as expected: %q", got)
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	if err := NewSlack(ts.URL).Send(context.Background(), "X", "Y"); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestSlack_NilWhenUnconfigured(t *testing.T) {
	if NewSlack("") != nil {
		t.Fatal("want nil slack without webhook")
	}
	var s *Slack
	if err := s.Send(context.Background(), "X", "Y"); err == nil {
		t.Fatal("nil slack must refuse to send")
	}
}
