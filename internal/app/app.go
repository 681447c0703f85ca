// Package app wires configuration, storage, the password engine and the
// upload coordinator into one value the command layer drives.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loopkit/nightscoutservice/internal/config"
	"github.com/loopkit/nightscoutservice/internal/cryptox"
	"github.com/loopkit/nightscoutservice/internal/filex"
	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/metrics"
	"github.com/loopkit/nightscoutservice/internal/otp"
	"github.com/loopkit/nightscoutservice/internal/push"
	"github.com/loopkit/nightscoutservice/internal/remote"
	"github.com/loopkit/nightscoutservice/internal/repositories/metadata"
	"github.com/loopkit/nightscoutservice/internal/secretstore"
	"github.com/loopkit/nightscoutservice/internal/services"
	"github.com/loopkit/nightscoutservice/internal/storage"
)

type Option func(*options)

type options struct {
	now        func() time.Time
	httpClient *http.Client
}

// WithClock overrides the clock of the password engine and the coordinator.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// App holds the wired service.
type App struct {
	Config        *config.Config
	Logger        logging.Logger
	Metrics       *metrics.Metrics
	Passwords     *otp.Engine
	Coordinator   *services.Coordinator
	Notifications *push.Validator

	db *sql.DB
}

// New opens the database at cfg.DatabasePath and builds every component.
// Without credentials the coordinator runs disabled.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if err := filex.EnsureParentDir(cfg.DatabasePath); err != nil {
		return nil, err
	}
	db, err := storage.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(), db: db}
	if err := a.wire(ctx, o); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.Config

	passphrase := []byte(cfg.SecretPassphrase)
	secrets, err := secretstore.NewSQLiteStore(ctx, a.db, passphrase)
	cryptox.Wipe(passphrase)
	if err != nil {
		return err
	}
	a.Passwords, err = otp.NewEngine(ctx, secrets,
		otp.WithClock(o.now),
		otp.WithPeriod(cfg.OTPPeriod),
		otp.WithDigits(cfg.OTPDigits),
		otp.WithMaxAccepted(cfg.MaxOTPsToAccept),
		otp.WithLogger(a.Logger.With("component", "otp")),
		otp.WithRecorder(a.Metrics),
	)
	if err != nil {
		return err
	}
	a.Notifications = push.NewValidator(a.Passwords, a.Logger.With("component", "push"))

	// A nil interface, not a typed nil pointer, keeps the coordinator disabled.
	var client remote.Client
	if cfg.HasCredentials() {
		clientOpts := []remote.Option{
			remote.WithTimeout(cfg.RequestTimeout),
			remote.WithLogger(a.Logger.With("component", "nightscout")),
		}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, remote.WithHTTPClient(o.httpClient))
		}
		ns, err := remote.NewNightscoutClient(cfg.SiteURL, cfg.APISecret, clientOpts...)
		if err != nil {
			return err
		}
		client = ns
	}

	states := services.NewStateStore(metadata.NewSQLiteRepository(a.db), a.Logger.With("component", "state"))
	a.Coordinator, err = services.NewCoordinator(ctx, client, states,
		services.WithClock(o.now),
		services.WithLogger(a.Logger.With("component", "uploader")),
		services.WithRecorder(a.Metrics),
		services.WithKeepTime(cfg.ObjectIDCacheKeepTime),
		services.WithSource(cfg.Source),
	)
	return err
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}
