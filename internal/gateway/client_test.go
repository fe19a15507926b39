package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestEpochSeconds_Decodings(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
	}{
		{"number", `{"messageTimestamp": 1714000000}`, 1714000000},
		{"string", `{"messageTimestamp": "1714000000"}`, 1714000000},
		{"fractional", `{"messageTimestamp": 1714000000.9}`, 1714000000},
		{"null", `{"messageTimestamp": null}`, 0},
		{"absent", `{}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m RawMessage
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if int64(m.MessageTimestamp) != tc.want {
				t.Fatalf("timestamp = %d; want %d", m.MessageTimestamp, tc.want)
			}
		})
	}

	var m RawMessage
	if err := json.Unmarshal([]byte(`{"messageTimestamp": "not-a-number"}`), &m); err == nil {
		t.Fatalf("expected error for garbage timestamp")
	}
}

func TestEpochSeconds_Time(t *testing.T) {
	if !EpochSeconds(0).Time().IsZero() {
		t.Fatalf("zero epoch must map to zero time")
	}
	got := EpochSeconds(100).Time()
	if got != time.Unix(100, 0).UTC() {
		t.Fatalf("Time() = %v", got)
	}
}

func TestFetchMessages_PaginationParamsAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/inst1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "secret" {
			t.Errorf("apikey header = %q", got)
		}
		if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("offset") != "4" {
			t.Errorf("unexpected pagination: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"key":{"remoteJid":"62811@s.whatsapp.net","fromMe":false,"id":"A1"},
			 "pushName":"Ana","message":{"conversation":"Hi"},"messageTimestamp":100},
			{"key":{"remoteJid":"62811@s.whatsapp.net","fromMe":true,"id":"A2"},
			 "message":{"conversation":"Hello"},"messageTimestamp":"200"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "secret"})
	msgs, err := c.FetchMessages(context.Background(), "inst1", 2, 4)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages; want 2", len(msgs))
	}
	if msgs[0].Key.ID != "A1" || msgs[0].PushName != "Ana" || msgs[0].Key.FromMe {
		t.Fatalf("first message mis-decoded: %+v", msgs[0])
	}
	if msgs[1].MessageTimestamp != 200 || !msgs[1].Key.FromMe {
		t.Fatalf("second message mis-decoded: %+v", msgs[1])
	}
}

func TestFetchMessages_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Retries: 2})
	if _, err := c.FetchMessages(context.Background(), "inst1", 10, 0); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFetchInstances_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.FetchInstances(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestFetchMessages_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Retries: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.FetchMessages(ctx, "inst1", 10, 0); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
