package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schwabstream/internal/auth"
	"schwabstream/pkg/schwab"
)

// Conn is one streamer connection as used by Session.
type Conn interface {
	Send(reqs ...schwab.Request) error
	ReadMessage(deadline time.Time) ([]byte, error)
	Close() error
}

// DialFunc opens a Conn to url.
type DialFunc func(ctx context.Context, url string, logger *zap.Logger) (Conn, error)

// StreamerInfoSource fetches the streamer credential bundle, e.g. *schwab.RESTClient.
type StreamerInfoSource interface {
	GetStreamerInfo(ctx context.Context) (schwab.StreamerInfo, error)
}

type Options struct {
	LoginTimeout   time.Duration
	IdleTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	ChannelBuffer  int
	Dial           DialFunc // defaults to schwab.DialWS
}

func (o Options) withDefaults() Options {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = 30 * time.Second
		if o.BackoffMax < o.BackoffInitial {
			o.BackoffMax = o.BackoffInitial
		}
	}
	if o.ChannelBuffer < 0 {
		o.ChannelBuffer = 0
	}
	if o.Dial == nil {
		o.Dial = func(ctx context.Context, url string, logger *zap.Logger) (Conn, error) {
			return schwab.DialWS(ctx, url, logger)
		}
	}
	return o
}

// Session is one logical streamer connection. It logs in, replays the
// registry on every (re)connect and delivers decoded messages on a single
// channel that survives reconnects.
type Session struct {
	tokens schwab.TokenSource
	info   StreamerInfoSource
	opts   Options
	demux  *Demuxer
	logger *zap.Logger

	state atomic.Int32

	mu        sync.Mutex // guards everything below and serializes transitions and writes
	registry  *Registry
	pending   []Subscription
	conn      Conn
	bundle    schwab.StreamerInfo
	requestID int64
	started   bool
	err       error

	out    chan StreamerMessage
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(tokens schwab.TokenSource, info StreamerInfoSource, opts Options, logger *zap.Logger) *Session {
	logger = logger.Named("stream")
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		tokens:   tokens,
		info:     info,
		opts:     opts.withDefaults(),
		demux:    NewDemuxer(logger),
		logger:   logger,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins connecting and returns the receiver for the session's whole
// life. The channel is closed after Stop or a fatal credential error.
func (s *Session) Start() (<-chan StreamerMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, ErrAlreadyStarted
	}
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	s.started = true
	s.out = make(chan StreamerMessage, s.opts.ChannelBuffer)
	s.setState(StateConnecting)

	go s.run()
	return s.out, nil
}

// State returns the current state without blocking.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// Err returns the terminal cause once the session closed on its own, such as
// auth.ErrReauthorizationRequired. It is nil after a plain Stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send transmits subs in order. While not Active they are queued and flushed
// FIFO after the registry replay on the next Active entry.
func (s *Session) Send(subs ...Subscription) error {
	normalized := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		n, err := sub.normalize()
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateClosed:
		return ErrSessionClosed
	case StateActive:
		for _, sub := range normalized {
			s.transmit(sub)
		}
	default:
		s.pending = append(s.pending, normalized...)
	}
	return nil
}

// Stop cancels any wait, logs out when active, closes the transport and the
// channel. Idempotent.
func (s *Session) Stop() error {
	s.cancel()

	s.mu.Lock()
	prev := s.State()
	if prev != StateClosed {
		s.setState(StateClosed)
	}
	conn := s.conn
	s.conn = nil
	if conn != nil {
		if prev == StateActive {
			if err := conn.Send(s.request(schwab.ServiceAdmin, schwab.CommandLogout, map[string]string{})); err != nil {
				s.logger.Debug("logout not sent", zap.Error(err))
			}
		}
		_ = conn.Close()
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	}
	return nil
}

// Snapshot returns the desired subscriptions as grouped SUBS commands.
func (s *Session) Snapshot() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Snapshot()
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.out)

	backoff := s.opts.BackoffInitial
	for {
		reachedActive, err := s.connect()
		if s.ctx.Err() != nil {
			return
		}
		if isFatal(err) {
			s.fail(err)
			return
		}
		if reachedActive {
			backoff = s.opts.BackoffInitial
		}

		s.mu.Lock()
		s.dropConnLocked()
		ok := s.setState(StateReconnecting)
		s.mu.Unlock()
		if !ok {
			return
		}
		s.logger.Warn("stream disconnected, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, s.opts.BackoffMax)

		s.mu.Lock()
		ok = s.setState(StateConnecting)
		s.mu.Unlock()
		if !ok {
			return
		}
	}
}

// connect runs one attempt: fetch the bundle, dial, log in, replay, then read
// until the connection fails. It reports whether Active was reached.
func (s *Session) connect() (bool, error) {
	attempt := uuid.NewString()
	logger := s.logger.With(zap.String("conn_id", attempt))

	info, err := s.info.GetStreamerInfo(s.ctx)
	if err != nil {
		return false, fmt.Errorf("fetch streamer info: %w", err)
	}

	conn, err := s.opts.Dial(s.ctx, info.StreamerSocketURL, logger)
	if err != nil {
		return false, &TransportError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	if s.ctx.Err() != nil || !s.setState(StateLoggingIn) {
		s.mu.Unlock()
		_ = conn.Close()
		return false, ErrSessionClosed
	}
	s.conn = conn
	s.bundle = info
	s.mu.Unlock()

	if err := s.login(conn, info, logger); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.conn != conn || !s.setState(StateActive) {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	replay := s.registry.Replay()
	for _, sub := range replay {
		s.write(sub)
	}
	pending := s.pending
	s.pending = nil
	for _, sub := range pending {
		s.transmit(sub)
	}
	s.mu.Unlock()
	logger.Info("stream active",
		zap.Int("replayed", len(replay)),
		zap.Int("flushed", len(pending)),
	)

	return true, s.readLoop(conn, logger)
}

func (s *Session) login(conn Conn, info schwab.StreamerInfo, logger *zap.Logger) error {
	token, err := s.tokens.AccessToken(s.ctx)
	if err != nil {
		return fmt.Errorf("access token for login: %w", err)
	}

	s.mu.Lock()
	req := s.request(schwab.ServiceAdmin, schwab.CommandLogin, map[string]string{
		"Authorization":          token,
		"SchwabClientChannel":    info.SchwabClientChannel,
		"SchwabClientFunctionId": info.SchwabClientFunctionID,
	})
	s.mu.Unlock()
	if err := conn.Send(req); err != nil {
		return &TransportError{Op: "login", Err: err}
	}

	deadline := time.Now().Add(s.opts.LoginTimeout)
	for {
		raw, err := conn.ReadMessage(deadline)
		if err != nil {
			return &TransportError{Op: "await login", Err: err}
		}
		frame, err := s.demux.Decode(raw)
		if err != nil {
			logger.Warn("dropping frame during login", zap.Error(err))
			continue
		}
		for _, resp := range frame.Responses {
			if resp.Command != schwab.CommandLogin {
				continue
			}
			if resp.Code != schwab.CodeSuccess {
				return &LoginRejectedError{Code: resp.Code, Message: resp.Msg}
			}
			logger.Info("logged in", zap.String("msg", resp.Msg))
			return nil
		}
	}
}

func (s *Session) readLoop(conn Conn, logger *zap.Logger) error {
	for {
		raw, err := conn.ReadMessage(time.Now().Add(s.opts.IdleTimeout))
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}

		frame, err := s.demux.Decode(raw)
		if err != nil {
			logger.Warn("dropping frame", zap.Error(err))
			continue
		}
		for _, resp := range frame.Responses {
			if resp.Code != schwab.CodeSuccess {
				logger.Warn("request failed",
					zap.String("service", string(resp.Service)),
					zap.String("command", string(resp.Command)),
					zap.String("requestid", resp.RequestID),
					zap.Int("code", resp.Code),
					zap.String("msg", resp.Msg),
				)
			}
		}
		for _, notice := range frame.Notices {
			logger.Warn("streamer notice", zap.Int("code", notice.Code), zap.String("msg", notice.Msg))
		}

		for _, msg := range frame.Messages {
			select {
			case s.out <- msg:
			case <-s.ctx.Done():
				return ErrSessionClosed
			}
		}
	}
}

// transmit applies sub to the registry and writes the resulting commands.
// Caller holds s.mu.
func (s *Session) transmit(sub Subscription) {
	for _, wire := range s.registry.Apply(sub) {
		s.write(wire)
	}
}

// write sends one command. A failed write closes the connection so the read
// loop reconnects; the registry replay covers what was lost. Caller holds s.mu.
func (s *Session) write(sub Subscription) {
	if s.conn == nil {
		return
	}

	params := map[string]string{}
	switch sub.Command {
	case schwab.CommandView:
		params["fields"] = schwab.WireFields(sub.Service, sub.Fields)
	case schwab.CommandUnsubs:
		params["keys"] = strings.Join(sub.Keys, ",")
	default:
		params["keys"] = strings.Join(sub.Keys, ",")
		params["fields"] = schwab.WireFields(sub.Service, sub.Fields)
	}

	if err := s.conn.Send(s.request(sub.Service, sub.Command, params)); err != nil {
		s.logger.Warn("write failed, dropping connection",
			zap.String("service", string(sub.Service)),
			zap.String("command", string(sub.Command)),
			zap.Error(err),
		)
		_ = s.conn.Close()
		s.conn = nil
	}
}

// request builds a command stamped with the next request id. Caller holds s.mu.
func (s *Session) request(service schwab.Service, command schwab.Command, params map[string]string) schwab.Request {
	s.requestID++
	return schwab.Request{
		Service:    service,
		Command:    command,
		RequestID:  strconv.FormatInt(s.requestID, 10),
		CustomerID: s.bundle.SchwabClientCustomerID,
		CorrelID:   s.bundle.SchwabClientCorrelID,
		Parameters: params,
	}
}

// setState validates and applies a transition. Caller holds s.mu.
func (s *Session) setState(to State) bool {
	from := s.State()
	if !canTransition(from, to) {
		s.logger.Debug("ignoring transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return false
	}
	s.state.Store(int32(to))
	s.logger.Info("state change", zap.Stringer("from", from), zap.Stringer("to", to))
	return true
}

func (s *Session) dropConnLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) fail(err error) {
	s.logger.Error("stream closed on credential error", zap.Error(err))

	s.mu.Lock()
	s.err = err
	s.dropConnLocked()
	s.setState(StateClosed)
	s.mu.Unlock()
	s.cancel()
}

func isFatal(err error) bool {
	return errors.Is(err, auth.ErrReauthorizationRequired) || errors.Is(err, auth.ErrNoToken)
}
