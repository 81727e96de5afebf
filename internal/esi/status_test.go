package esi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fineauth/fineauth/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct {
	status *ServerStatus
	err    error
	queue  *queue.Queue
	seen   int
}

func (f *fakeStatusSource) Status(context.Context) (*ServerStatus, error) {
	if f.queue != nil {
		f.seen = f.queue.Len()
	}
	return f.status, f.err
}

func TestPoller_StartsUnknown(t *testing.T) {
	p := NewPoller(&fakeStatusSource{}, queue.New(0), 0)
	assert.Equal(t, StatusUnknown, p.Current().Status)
}

func TestPoller_Online(t *testing.T) {
	q := queue.New(0)
	src := &fakeStatusSource{status: &ServerStatus{Players: 21000, ServerVersion: "2345678"}, queue: q}
	p := NewPoller(src, q, 0)

	var published []StatusSnapshot
	p.OnChange(func(s StatusSnapshot) { published = append(published, s) })

	snap := p.Refresh(context.Background())
	assert.Equal(t, StatusOnline, snap.Status)
	require.NotNil(t, snap.Players)
	assert.Equal(t, int64(21000), *snap.Players)
	assert.NotNil(t, snap.LastUpdated)
	assert.Nil(t, snap.Error)

	assert.Equal(t, 1, src.seen, "poll is visible in the queue while running")
	assert.Equal(t, 0, q.Len(), "poll task is completed afterwards")
	require.Len(t, published, 1)
	assert.Equal(t, snap, p.Current())
}

func TestPoller_FailureIsUnavailable(t *testing.T) {
	q := queue.New(0)
	p := NewPoller(&fakeStatusSource{err: errors.New("ESI status error: 503")}, q, 0)

	snap := p.Refresh(context.Background())
	assert.Equal(t, StatusUnavailable, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Contains(t, *snap.Error, "503")
	assert.Nil(t, snap.Players)
	assert.Equal(t, 0, q.Len())
}

func TestPoller_BacksOffOnRetryAfter(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeStatusSource{err: &UpstreamError{Status: 420, RetryAfter: 30 * time.Second}}
	p := NewPoller(src, queue.New(0), 0)
	p.now = func() time.Time { return clock }

	p.Refresh(context.Background())
	assert.True(t, p.BackingOff())

	clock = clock.Add(29 * time.Second)
	assert.True(t, p.BackingOff())
	clock = clock.Add(2 * time.Second)
	assert.False(t, p.BackingOff())

	// A failure without Retry-After clears the pause.
	src.err = errors.New("connection refused")
	p.Refresh(context.Background())
	assert.False(t, p.BackingOff())
}
