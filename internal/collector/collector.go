package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scmhub/calendar"
	"go.uber.org/zap"

	"schwabstream/config"
	"schwabstream/internal/auth"
	"schwabstream/internal/stream"
	"schwabstream/pkg/schwab"
	"schwabstream/pkg/storage/postgres"
)

// statsInterval is how often Stream logs delivered message counts.
const statsInterval = 30 * time.Second

// Collector wires the token lifecycle, the REST gateway and the streamer
// session from one Config.
type Collector struct {
	cfg       *config.Config
	logger    *zap.Logger
	creds     auth.Credentials
	authority *auth.Authority
	source    *auth.Source
	rest      *schwab.RESTClient
	closers   []func() error
}

// New resolves credentials, opens the configured token store and builds the
// authority and REST client. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Collector, error) {
	if err := cfg.ResolveCredentials(ctx); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	c := &Collector{
		cfg:    cfg,
		logger: logger.Named("collector"),
		creds: auth.Credentials{
			AppKey:      cfg.Schwab.AppKey,
			AppSecret:   cfg.Schwab.AppSecret,
			RedirectURI: cfg.Schwab.RedirectURI,
		},
	}

	persister, err := c.openPersister(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	store, err := auth.NewStore(ctx, persister)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open token store: %w", err)
	}

	c.authority = auth.NewAuthority(store, auth.Options{
		BaseURL:        cfg.Schwab.BaseURL,
		RefreshMargin:  cfg.Auth.RefreshMargin,
		MaxAttempts:    cfg.Auth.MaxAttempts,
		RetryBaseDelay: cfg.Auth.RetryBaseDelay,
	}, logger)
	c.source = c.authority.Source(c.creds)
	c.rest = schwab.NewRESTClient(cfg.Schwab.BaseURL, cfg.REST.Timeout, c.source, cfg.REST.RequestsPerMinute, logger)
	return c, nil
}

func (c *Collector) openPersister(ctx context.Context) (auth.Persister, error) {
	switch c.cfg.Token.Store {
	case "memory":
		return auth.NewMemoryPersister(), nil
	case "postgres":
		client, err := postgres.Open(ctx, c.cfg.Postgres, c.cfg.Log.Environment, true)
		if err != nil {
			return nil, fmt.Errorf("open postgres token store: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		return postgres.NewTokenRepository(client, c.cfg.Token.RecordName), nil
	default:
		persister := auth.NewFilePersister(c.cfg.Token.File)
		c.logger.Info("using token file", zap.String("path", persister.Path()))
		return persister, nil
	}
}

func (c *Collector) Credentials() auth.Credentials { return c.creds }

func (c *Collector) Authority() *auth.Authority { return c.authority }

func (c *Collector) Source() *auth.Source { return c.source }

func (c *Collector) REST() *schwab.RESTClient { return c.rest }

// Subscriptions converts stream.subscriptions from the config.
func (c *Collector) Subscriptions() []stream.Subscription {
	subs := make([]stream.Subscription, 0, len(c.cfg.Stream.Subscriptions))
	for _, s := range c.cfg.Stream.Subscriptions {
		subs = append(subs, stream.Subscribe(schwab.Service(s.Service), s.Keys, s.Fields...))
	}
	return subs
}

// Stream runs the refresh scheduler and a streamer session with the
// configured subscriptions, handing every message to handle until ctx is done.
// It returns the session's terminal error, e.g. auth.ErrReauthorizationRequired.
func (c *Collector) Stream(ctx context.Context, handle func(stream.StreamerMessage)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := auth.NewRefreshScheduler(c.source, c.cfg.Auth.RefreshInterval, c.logger).Start(ctx)
	defer func() {
		cancel()
		<-schedulerDone
	}()

	session := stream.NewSession(c.source, c.rest, stream.Options{
		LoginTimeout:   c.cfg.Stream.LoginTimeout,
		IdleTimeout:    c.cfg.Stream.IdleTimeout,
		BackoffInitial: c.cfg.Stream.BackoffInitial,
		BackoffMax:     c.cfg.Stream.BackoffMax,
		ChannelBuffer:  c.cfg.Stream.ChannelBuffer,
	}, c.logger)

	out, err := session.Start()
	if err != nil {
		return err
	}
	defer session.Stop()

	subs := c.Subscriptions()
	if err := session.Send(subs...); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.warnIfMarketClosed(subs, time.Now())

	counts := map[schwab.Service]int{}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fields := []zap.Field{zap.Stringer("state", session.State())}
			for svc, n := range counts {
				fields = append(fields, zap.Int(string(svc), n))
			}
			c.logger.Info("messages delivered", fields...)
		case msg, ok := <-out:
			if !ok {
				err := session.Err()
				if errors.Is(err, auth.ErrReauthorizationRequired) || errors.Is(err, auth.ErrNoToken) {
					c.logger.Error("stream needs a new authorization, run the authorize command", zap.Error(err))
				}
				return err
			}
			counts[msg.Service()]++
			handle(msg)
		}
	}
}

// warnIfMarketClosed flags equity and option subscriptions made outside NYSE
// hours, when the venue delivers nothing for them.
func (c *Collector) warnIfMarketClosed(subs []stream.Subscription, now time.Time) {
	if marketOpen(subs, now) {
		return
	}
	c.logger.Warn("NYSE is closed, equity and option streams stay quiet until the next session",
		zap.Time("now", now))
}

// marketOpen reports false only when subs include an exchange-hours service
// and the NYSE calendar says the market is closed at now.
func marketOpen(subs []stream.Subscription, now time.Time) bool {
	exchangeHours := false
	for _, sub := range subs {
		if sub.Service == schwab.ServiceLevelOneEquities || sub.Service == schwab.ServiceLevelOneOptions {
			exchangeHours = true
			break
		}
	}
	if !exchangeHours {
		return true
	}
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		return true
	}
	return cal.IsOpen(now)
}

// Close releases the token store backend.
func (c *Collector) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	c.closers = nil
	return errors.Join(errs...)
}
