package esi

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fineauth/fineauth/internal/queue"
	"github.com/tidwall/gjson"
)

// Upstream status values.
const (
	StatusOnline      = "online"
	StatusUnavailable = "unavailable"
	StatusUnknown     = "unknown"
)

// ServerStatus is the provider's reported health.
type ServerStatus struct {
	Players       int64
	ServerVersion string
}

// Status fetches the live server status, never from cache.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	body, err := c.GetJSON(ctx, c.URL("status/", nil), FetchOptions{NoCache: true})
	if err != nil {
		return nil, err
	}
	return &ServerStatus{
		Players:       gjson.GetBytes(body, "players").Int(),
		ServerVersion: gjson.GetBytes(body, "server_version").String(),
	}, nil
}

// StatusSnapshot is the published tri-state status.
type StatusSnapshot struct {
	Status        string     `json:"status"`
	Players       *int64     `json:"players"`
	ServerVersion *string    `json:"serverVersion"`
	LastUpdated   *time.Time `json:"lastUpdated"`
	Error         *string    `json:"error"`
}

// StatusSource is anything that can report upstream status.
type StatusSource interface {
	Status(ctx context.Context) (*ServerStatus, error)
}

// Poller periodically checks upstream health and publishes the result.
// Each poll is visible in the task queue while it runs.
type Poller struct {
	source   StatusSource
	queue    *queue.Queue
	interval time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	current    StatusSnapshot
	listeners  []func(StatusSnapshot)
	retryUntil time.Time
}

// NewPoller creates a poller that starts in the "unknown" state.
func NewPoller(source StatusSource, q *queue.Queue, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		source:   source,
		queue:    q,
		interval: interval,
		now:      time.Now,
		current:  StatusSnapshot{Status: StatusUnknown},
	}
}

// Current returns the last published status.
func (p *Poller) Current() StatusSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// OnChange registers a listener called after every poll.
func (p *Poller) OnChange(fn func(StatusSnapshot)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Refresh performs one poll. Failures publish "unavailable" with the error.
func (p *Poller) Refresh(ctx context.Context) StatusSnapshot {
	var (
		snap       StatusSnapshot
		retryAfter time.Duration
	)
	_ = p.queue.Track("Refresh ESI server status", "", queue.CategorySystem, func(queue.Task) error {
		snap, retryAfter = p.poll(ctx)
		return nil
	})

	p.mu.Lock()
	p.current = snap
	p.retryUntil = time.Time{}
	if retryAfter > 0 {
		p.retryUntil = p.now().Add(retryAfter)
	}
	listeners := p.listeners
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// BackingOff reports whether the last failure asked for a pause that has
// not elapsed yet.
func (p *Poller) BackingOff() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now().Before(p.retryUntil)
}

// poll returns the snapshot and the upstream's requested back-off, if any.
func (p *Poller) poll(ctx context.Context) (snap StatusSnapshot, retryAfter time.Duration) {
	now := p.now()
	snap.LastUpdated = &now
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [ESI] Status poll panicked: %v", r)
			msg := "status poll failed"
			snap = StatusSnapshot{Status: StatusUnavailable, LastUpdated: &now, Error: &msg}
		}
	}()

	status, err := p.source.Status(ctx)
	if err != nil {
		msg := err.Error()
		snap.Status = StatusUnavailable
		snap.Error = &msg
		log.Printf("⚠️ [ESI] Server status unavailable: %v", err)
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			retryAfter = upstreamErr.RetryAfter
		}
		return snap, retryAfter
	}
	snap.Status = StatusOnline
	snap.Players = &status.Players
	snap.ServerVersion = &status.ServerVersion
	return snap, 0
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.BackingOff() {
				log.Printf("⏸️ [ESI] Skipping status poll, upstream asked to retry later")
				continue
			}
			p.Refresh(ctx)
		}
	}
}
