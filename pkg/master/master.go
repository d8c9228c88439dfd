// Package master announces a running server to master servers so that
// server browsers can list it.
package master

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultInterval is the time between heartbeats.
	DefaultInterval = 300 * time.Second

	// DefaultRetries is the number of retries per heartbeat and master.
	DefaultRetries = 3
)

// Status is the body posted to each master.
type Status struct {
	Name       string `json:"name"`
	Addr       string `json:"addr"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Map        string `json:"map"`
}

// StatusFunc reports the current server status.
type StatusFunc func() Status

// Config configures a Heartbeat.
type Config struct {
	URLs     []string
	Interval time.Duration
	Retries  int

	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	// Defaults are those of retryablehttp.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Timeout bounds each attempt. Default: 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Heartbeat posts the server status to every configured master.
type Heartbeat struct {
	urls     []string
	interval time.Duration
	status   StatusFunc
	client   *retryablehttp.Client
	logger   *slog.Logger
}

// New returns a Heartbeat reporting status.
func New(cfg Config, status StatusFunc) *Heartbeat {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "master")

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.HTTPClient.Timeout = cfg.Timeout
	// slog.Logger satisfies retryablehttp.LeveledLogger.
	client.Logger = logger.With("client", "retryablehttp")

	return &Heartbeat{
		urls:     cfg.URLs,
		interval: cfg.Interval,
		status:   status,
		client:   client,
		logger:   logger,
	}
}

// Run sends a heartbeat immediately and then every interval until ctx is
// cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	if len(h.urls) == 0 {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.Send(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Send posts one heartbeat to every master and returns the number that
// accepted it.
func (h *Heartbeat) Send(ctx context.Context) int {
	body, err := json.Marshal(h.status())
	if err != nil {
		h.logger.Warn("heartbeat encode failed", "error", err)
		return 0
	}

	ok := 0
	for _, url := range h.urls {
		if ctx.Err() != nil {
			break
		}
		if err := h.post(ctx, url, body); err != nil {
			h.logger.Warn("heartbeat failed", "master", url, "error", err)
			continue
		}
		h.logger.Debug("heartbeat sent", "master", url)
		ok++
	}
	return ok
}

func (h *Heartbeat) post(ctx context.Context, url string, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("master: %s", resp.Status)
	}
	return nil
}
