package esi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeESI serves canned bodies by path and counts hits.
type fakeESI struct {
	bodies map[string]string
	status map[string]int
	hits   atomic.Int32
}

func (f *fakeESI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	if r.URL.Query().Get("datasource") != DefaultDatasource {
		http.Error(w, `{"error":"missing datasource"}`, http.StatusBadRequest)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/latest")
	if code, ok := f.status[path]; ok {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(code)
		w.Write([]byte(`{"error":"upstream sad"}`))
		return
	}
	body, ok := f.bodies[path]
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func newTestClient(t *testing.T, f *fakeESI) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/latest", UserAgent: "fineauth-test"})
}

func TestGetJSON_CachesUnlessBypassed(t *testing.T) {
	f := &fakeESI{bodies: map[string]string{"/status/": `{"players":10}`}}
	c := newTestClient(t, f)
	ctx := context.Background()
	u := c.URL("status/", nil)

	_, err := c.GetJSON(ctx, u, FetchOptions{})
	require.NoError(t, err)
	_, err = c.GetJSON(ctx, u, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.hits.Load())

	_, err = c.GetJSON(ctx, u, FetchOptions{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestGetJSON_UpstreamError(t *testing.T) {
	f := &fakeESI{status: map[string]int{"/status/": http.StatusServiceUnavailable}}
	c := newTestClient(t, f)

	_, err := c.GetJSON(context.Background(), c.URL("status/", nil), FetchOptions{})
	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusServiceUnavailable, upstreamErr.Status)
	assert.Equal(t, 7*time.Second, upstreamErr.RetryAfter)
	assert.Contains(t, upstreamErr.Error(), "upstream sad")
	assert.Equal(t, 0, c.Cache().Len(), "errors must not be cached")
}

func TestCharacterDetails_Full(t *testing.T) {
	f := &fakeESI{bodies: map[string]string{
		"/search/":                `{"character":[123]}`,
		"/characters/123/":        `{"name":"Jane Doe","corporation_id":98000001,"alliance_id":99000001}`,
		"/corporations/98000001/": `{"name":"Jane Corp"}`,
		"/alliances/99000001/":    `{"name":"Jane Alliance"}`,
	}}
	c := newTestClient(t, f)

	d := c.CharacterDetails(context.Background(), "Jane Doe", 0, FetchOptions{})
	require.NotNil(t, d.CharacterID)
	assert.Equal(t, int64(123), *d.CharacterID)
	assert.True(t, d.Affiliation)
	require.NotNil(t, d.CorporationName)
	assert.Equal(t, "Jane Corp", *d.CorporationName)
	require.NotNil(t, d.AllianceName)
	assert.Equal(t, "Jane Alliance", *d.AllianceName)
}

func TestCharacterDetails_DegradesToNil(t *testing.T) {
	f := &fakeESI{
		bodies: map[string]string{
			"/characters/123/":        `{"name":"Jane Doe","corporation_id":98000001,"alliance_id":99000001}`,
			"/corporations/98000001/": `{"name":"Jane Corp"}`,
		},
		status: map[string]int{"/alliances/99000001/": http.StatusBadGateway},
	}
	c := newTestClient(t, f)

	d := c.CharacterDetails(context.Background(), "Jane Doe", 123, FetchOptions{})
	require.NotNil(t, d.AllianceID)
	assert.Nil(t, d.AllianceName, "failed alliance lookup yields nil, not an error")
	require.NotNil(t, d.CorporationName)

	d = c.CharacterDetails(context.Background(), "Nobody", 456, FetchOptions{})
	require.NotNil(t, d.CharacterID)
	assert.False(t, d.Affiliation)
	assert.Nil(t, d.CorporationID)

	d = c.CharacterDetails(context.Background(), "Unsearchable", 0, FetchOptions{})
	assert.Nil(t, d.CharacterID)
}

func TestCharacterName(t *testing.T) {
	f := &fakeESI{bodies: map[string]string{"/characters/123/": `{"name":"Jane Renamed"}`}}
	c := newTestClient(t, f)

	name, err := c.CharacterName(context.Background(), 123)
	require.NoError(t, err)
	assert.Equal(t, "Jane Renamed", name)
}

func TestParseRetryDelay(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), ParseRetryDelay(resp))
	assert.Equal(t, time.Duration(0), ParseRetryDelay(nil))

	resp.Header.Set("X-ESI-Error-Limit-Remain", "0")
	resp.Header.Set("X-ESI-Error-Limit-Reset", "42")
	assert.Equal(t, 42*time.Second, ParseRetryDelay(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, ParseRetryDelay(resp))
}

func TestGetJSON_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Jane Corp"}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL})
	u := c.URL("corporations/98000001/", nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetJSON(firstCtx, u, FetchOptions{})
		firstErr <- err
	}()
	<-started
	cancel()

	type result struct {
		body []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		body, err := c.GetJSON(context.Background(), u, FetchOptions{})
		second <- result{body, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	got := <-second
	require.NoError(t, got.err, "waiter must not inherit the first caller's cancellation")
	assert.JSONEq(t, `{"name":"Jane Corp"}`, string(got.body))
	require.NoError(t, <-firstErr)
	assert.Equal(t, int32(1), hits.Load())
}
