package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schwabstream/internal/auth"
	"schwabstream/pkg/schwab"
)

// received is one request the fake venue got, tagged with its connection.
type received struct {
	conn int
	req  schwab.Request
}

type venueConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *venueConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// fakeVenue is an in-process streamer: it answers LOGIN with loginCode,
// acknowledges other commands and records everything it receives.
type fakeVenue struct {
	srv       *httptest.Server
	loginCode atomic.Int32
	dials     atomic.Int32
	frames    chan received

	mu    sync.Mutex
	conns []*venueConn
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	v := &fakeVenue{frames: make(chan received, 256)}
	upgrader := websocket.Upgrader{}

	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.dials.Add(1)
		vc := &venueConn{ws: ws}
		v.mu.Lock()
		v.conns = append(v.conns, vc)
		idx := len(v.conns) - 1
		v.mu.Unlock()

		defer ws.Close()
		for {
			var env schwab.RequestEnvelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			for _, req := range env.Requests {
				code := 0
				if req.Command == schwab.CommandLogin {
					code = int(v.loginCode.Load())
				}
				v.frames <- received{conn: idx, req: req}

				ack := fmt.Sprintf(`{"response":[{"service":%q,"command":%q,"requestid":%q,"content":{"code":%d,"msg":"ok"}}]}`,
					req.Service, req.Command, req.RequestID, code)
				if err := vc.write(ack); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVenue) url() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http")
}

func (v *fakeVenue) conn(t *testing.T, idx int) *venueConn {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	require.Greater(t, len(v.conns), idx)
	return v.conns[idx]
}

// push sends a raw frame on connection idx.
func (v *fakeVenue) push(t *testing.T, idx int, frame string) {
	t.Helper()
	require.NoError(t, v.conn(t, idx).write(frame))
}

// drop kills connection idx without a close handshake.
func (v *fakeVenue) drop(t *testing.T, idx int) {
	t.Helper()
	_ = v.conn(t, idx).ws.UnderlyingConn().Close()
}

func (v *fakeVenue) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-v.frames:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a request at the venue")
	}
	return received{}
}

func (v *fakeVenue) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-v.frames:
		t.Fatalf("unexpected request %s %s %v", r.req.Service, r.req.Command, r.req.Parameters)
	case <-time.After(wait):
	}
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(context.Context) (string, error)  { return s.token, s.err }
func (s staticTokens) ForceRefresh(context.Context) (string, error) { return s.token, s.err }

type staticInfo struct {
	url   string
	err   error
	calls atomic.Int32
}

func (s *staticInfo) GetStreamerInfo(context.Context) (schwab.StreamerInfo, error) {
	s.calls.Add(1)
	if s.err != nil {
		return schwab.StreamerInfo{}, s.err
	}
	return schwab.StreamerInfo{
		StreamerSocketURL:      s.url,
		SchwabClientCustomerID: "customer",
		SchwabClientCorrelID:   "correl",
		SchwabClientChannel:    "N9",
		SchwabClientFunctionID: "APIAPP",
	}, nil
}

func testOptions() Options {
	return Options{
		LoginTimeout:   time.Second,
		IdleTimeout:    2 * time.Second,
		BackoffInitial: 20 * time.Millisecond,
		BackoffMax:     100 * time.Millisecond,
		ChannelBuffer:  16,
	}
}

func newTestSession(t *testing.T, venue *fakeVenue, opts Options) *Session {
	t.Helper()
	s := NewSession(staticTokens{token: "access-token"}, &staticInfo{url: venue.url()}, opts, zap.NewNop())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func expectLogin(t *testing.T, venue *fakeVenue, conn int) {
	t.Helper()
	r := venue.next(t)
	assert.Equal(t, conn, r.conn)
	require.Equal(t, schwab.CommandLogin, r.req.Command)
	assert.Equal(t, schwab.ServiceAdmin, r.req.Service)
	assert.Equal(t, "access-token", r.req.Parameters["Authorization"])
	assert.Equal(t, "N9", r.req.Parameters["SchwabClientChannel"])
	assert.Equal(t, "APIAPP", r.req.Parameters["SchwabClientFunctionId"])
	assert.Equal(t, "customer", r.req.CustomerID)
	assert.Equal(t, "correl", r.req.CorrelID)
}

func receive(t *testing.T, out <-chan StreamerMessage) StreamerMessage {
	t.Helper()
	select {
	case msg, ok := <-out:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return nil
}

// go test -v --run TestSessionQueuedSubscribe
func TestSessionQueuedSubscribe(t *testing.T) {
	venue := newFakeVenue(t)
	s := newTestSession(t, venue, testOptions())

	_, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Send(Subscribe(schwab.ServiceLevelOneEquities, []string{"SPY"})))

	expectLogin(t, venue, 0)

	r := venue.next(t)
	assert.Equal(t, schwab.CommandSubs, r.req.Command)
	assert.Equal(t, schwab.ServiceLevelOneEquities, r.req.Service)
	assert.Equal(t, "SPY", r.req.Parameters["keys"])
	assert.Equal(t, schwab.WireFields(schwab.ServiceLevelOneEquities, nil), r.req.Parameters["fields"])

	venue.expectNone(t, 200*time.Millisecond)
	assert.True(t, s.IsActive())
	assert.EqualValues(t, 1, venue.dials.Load())
}

// go test -v --run TestSessionSendWhileActive
func TestSessionSendWhileActive(t *testing.T) {
	venue := newFakeVenue(t)
	s := newTestSession(t, venue, testOptions())

	_, err := s.Start()
	require.NoError(t, err)
	expectLogin(t, venue, 0)
	require.Eventually(t, s.IsActive, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(
		Subscribe(schwab.ServiceLevelOneEquities, []string{"SPY"}, "bid"),
		Add(schwab.ServiceLevelOneEquities, []string{"QQQ"}, "ask"),
		Unsubscribe(schwab.ServiceLevelOneEquities, "SPY"),
	))

	first := venue.next(t)
	assert.Equal(t, schwab.CommandSubs, first.req.Command)
	assert.Equal(t, "0,1", first.req.Parameters["fields"])
	second := venue.next(t)
	assert.Equal(t, schwab.CommandAdd, second.req.Command)
	assert.Equal(t, "QQQ", second.req.Parameters["keys"])
	third := venue.next(t)
	assert.Equal(t, schwab.CommandUnsubs, third.req.Command)
	assert.Equal(t, "SPY", third.req.Parameters["keys"])

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []string{"QQQ"}, snap[0].Keys)
}

// go test -v --run TestSessionReplayAfterDrop
func TestSessionReplayAfterDrop(t *testing.T) {
	venue := newFakeVenue(t)
	opts := testOptions()
	opts.BackoffInitial = 300 * time.Millisecond
	opts.BackoffMax = 300 * time.Millisecond
	s := newTestSession(t, venue, opts)

	out, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Send(Subscribe(schwab.ServiceLevelOneEquities, []string{"SPY"}, "bid", "ask")))
	expectLogin(t, venue, 0)
	r := venue.next(t)
	require.Equal(t, schwab.CommandSubs, r.req.Command)

	venue.drop(t, 0)
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)

	// queued while reconnecting, must follow the replay
	require.NoError(t, s.Send(Add(schwab.ServiceLevelOneEquities, []string{"QQQ"})))

	expectLogin(t, venue, 1)
	replay := venue.next(t)
	assert.Equal(t, 1, replay.conn)
	assert.Equal(t, schwab.CommandSubs, replay.req.Command)
	assert.Equal(t, "SPY", replay.req.Parameters["keys"])
	assert.Equal(t, "0,1,2", replay.req.Parameters["fields"])

	queued := venue.next(t)
	assert.Equal(t, schwab.CommandAdd, queued.req.Command)
	assert.Equal(t, "QQQ", queued.req.Parameters["keys"])

	require.Eventually(t, s.IsActive, time.Second, 5*time.Millisecond)

	// the consumer's channel survived the reconnect
	venue.push(t, 1, `{"data":[{"service":"LEVELONE_EQUITIES","timestamp":1,"content":[{"key":"SPY","1":1.5}]}]}`)
	assert.Equal(t, "SPY", receive(t, out).Key())
}

// go test -v --run TestSessionMalformedFrame
func TestSessionMalformedFrame(t *testing.T) {
	venue := newFakeVenue(t)
	s := newTestSession(t, venue, testOptions())

	out, err := s.Start()
	require.NoError(t, err)
	expectLogin(t, venue, 0)
	require.Eventually(t, s.IsActive, time.Second, 5*time.Millisecond)

	venue.push(t, 0, `{"data":[{"service":"LEVELONE_EQUITIES","timestamp":1,"content":[{"key":"A","1":1}]}]}`)
	venue.push(t, 0, `this is not json`)
	venue.push(t, 0, `{"data":[{"service":"UNKNOWN","content":[{"key":"X"}]}]}`)
	venue.push(t, 0, `{"notify":[{"heartbeat":"1"}]}`)
	venue.push(t, 0, `{"data":[{"service":"LEVELONE_EQUITIES","timestamp":2,"content":[{"key":"B","1":2},{"key":"C","1":3}]}]}`)

	var keys []string
	for i := 0; i < 3; i++ {
		keys = append(keys, receive(t, out).Key())
	}
	assert.Equal(t, []string{"A", "B", "C"}, keys)
	assert.True(t, s.IsActive())
	assert.EqualValues(t, 1, venue.dials.Load())
}

// go test -v --run TestSessionLoginRejected
func TestSessionLoginRejected(t *testing.T) {
	venue := newFakeVenue(t)
	venue.loginCode.Store(3)
	s := newTestSession(t, venue, testOptions())

	_, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Send(Subscribe(schwab.ServiceLevelOneEquities, []string{"SPY"})))

	expectLogin(t, venue, 0)
	venue.loginCode.Store(0)

	// rejected attempt sends nothing else; the retry logs in and flushes
	expectLogin(t, venue, 1)
	r := venue.next(t)
	assert.Equal(t, 1, r.conn)
	assert.Equal(t, schwab.CommandSubs, r.req.Command)
	require.Eventually(t, s.IsActive, time.Second, 5*time.Millisecond)
}

// go test -v --run TestSessionIdleTimeout
func TestSessionIdleTimeout(t *testing.T) {
	venue := newFakeVenue(t)
	opts := testOptions()
	opts.IdleTimeout = 150 * time.Millisecond
	s := newTestSession(t, venue, opts)

	_, err := s.Start()
	require.NoError(t, err)
	expectLogin(t, venue, 0)
	expectLogin(t, venue, 1)
	assert.GreaterOrEqual(t, venue.dials.Load(), int32(2))
}

// go test -v --run TestSessionStopWhileReconnecting
func TestSessionStopWhileReconnecting(t *testing.T) {
	info := &staticInfo{err: errors.New("gateway down")}
	opts := testOptions()
	opts.BackoffInitial = time.Hour
	opts.BackoffMax = time.Hour
	s := NewSession(staticTokens{token: "t"}, info, opts, zap.NewNop())

	out, err := s.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on the backoff wait")
	}

	_, ok := <-out
	assert.False(t, ok, "channel closed")
	assert.Equal(t, StateClosed, s.State())
	assert.NoError(t, s.Err())

	calls := info.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, info.calls.Load(), "no further attempts")
	assert.ErrorIs(t, s.Send(Subscribe(schwab.ServiceLevelOneEquities, []string{"SPY"})), ErrSessionClosed)
}

// go test -v --run TestSessionReauthorizationRequired
func TestSessionReauthorizationRequired(t *testing.T) {
	venue := newFakeVenue(t)
	tokens := staticTokens{err: fmt.Errorf("%w: refresh token expired", auth.ErrReauthorizationRequired)}
	s := NewSession(tokens, &staticInfo{url: venue.url()}, testOptions(), zap.NewNop())
	t.Cleanup(func() { _ = s.Stop() })

	out, err := s.Start()
	require.NoError(t, err)

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed on reauthorization")
	}
	assert.ErrorIs(t, s.Err(), auth.ErrReauthorizationRequired)
	assert.Equal(t, StateClosed, s.State())
}

// go test -v --run TestSessionStartTwice
func TestSessionStartTwice(t *testing.T) {
	venue := newFakeVenue(t)
	s := newTestSession(t, venue, testOptions())

	_, err := s.Start()
	require.NoError(t, err)
	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

// go test -v --run TestSessionStopSendsLogout
func TestSessionStopSendsLogout(t *testing.T) {
	venue := newFakeVenue(t)
	s := newTestSession(t, venue, testOptions())

	_, err := s.Start()
	require.NoError(t, err)
	expectLogin(t, venue, 0)
	require.Eventually(t, s.IsActive, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	r := venue.next(t)
	assert.Equal(t, schwab.CommandLogout, r.req.Command)
}

// go test -v --run TestRequestEnvelopeShape
func TestRequestEnvelopeShape(t *testing.T) {
	raw, err := json.Marshal(schwab.RequestEnvelope{Requests: []schwab.Request{{
		Service:    schwab.ServiceLevelOneEquities,
		Command:    schwab.CommandSubs,
		RequestID:  "7",
		CustomerID: "cust",
		CorrelID:   "corr",
		Parameters: map[string]string{"keys": "SPY", "fields": "0,1,2"},
	}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":[{"service":"LEVELONE_EQUITIES","command":"SUBS","requestid":"7",
		"SchwabClientCustomerId":"cust","SchwabClientCorrelId":"corr",
		"parameters":{"keys":"SPY","fields":"0,1,2"}}]}`, string(raw))
}

// go test -v --run TestSessionLoginTimeout
func TestSessionLoginTimeout(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		defer ws.Close()
		// read and never acknowledge
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(silent.Close)

	opts := testOptions()
	opts.LoginTimeout = 100 * time.Millisecond
	info := &staticInfo{url: "ws" + strings.TrimPrefix(silent.URL, "http")}
	s := NewSession(staticTokens{token: "access-token"}, info, opts, zap.NewNop())
	t.Cleanup(func() { _ = s.Stop() })

	out, err := s.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dials.Load() > 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, time.Second, time.Millisecond)
	assert.False(t, s.IsActive())

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop blocked during login retries")
	}
	_, ok := <-out
	assert.False(t, ok)
}
