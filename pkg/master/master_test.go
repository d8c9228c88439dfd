package master

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStatus() Status {
	return Status{Name: "test", Addr: "127.0.0.1:27910", Players: 2, MaxPlayers: 8, Map: "q2dm1"}
}

func TestSend(t *testing.T) {
	var got Status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := New(Config{URLs: []string{srv.URL}, Logger: quietLogger()}, testStatus)
	if n := h.Send(context.Background()); n != 1 {
		t.Errorf("Send() = %d, want 1", n)
	}
	if got != testStatus() {
		t.Errorf("posted %+v, want %+v", got, testStatus())
	}
}

func TestSendRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := New(Config{
		URLs:         []string{srv.URL},
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		Logger:       quietLogger(),
	}, testStatus)
	if n := h.Send(context.Background()); n != 1 {
		t.Errorf("Send() = %d, want 1", n)
	}
	if c := calls.Load(); c != 3 {
		t.Errorf("calls = %d, want 3", c)
	}
}

func TestSendFailures(t *testing.T) {
	var calls atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer rejected.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	h := New(Config{
		URLs:         []string{down.URL, rejected.URL, up.URL},
		Retries:      2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
		Logger:       quietLogger(),
	}, testStatus)
	if n := h.Send(context.Background()); n != 1 {
		t.Errorf("Send() = %d, want 1", n)
	}
	if c := calls.Load(); c != 3 {
		t.Errorf("calls to failing master = %d, want 3", c)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	beats := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beats <- struct{}{}
	}))
	defer srv.Close()

	h := New(Config{URLs: []string{srv.URL}, Interval: 10 * time.Millisecond, Logger: quietLogger()}, testStatus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	for range 2 {
		select {
		case <-beats:
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat not received")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunWithoutURLs(t *testing.T) {
	h := New(Config{}, testStatus)
	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() without masters did not return")
	}
	if h.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultInterval)
	}
	if h.client.RetryMax != DefaultRetries {
		t.Errorf("RetryMax = %d, want %d", h.client.RetryMax, DefaultRetries)
	}
}
