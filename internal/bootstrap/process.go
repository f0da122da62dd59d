// Package bootstrap holds the start-up and shutdown sequence every ledger
// binary shares: .env, config, logger, backing clients and signal handling.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/instance"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/migrate"
	"github.com/angelmondragon/settlement-ledger/pkg/pubsub"
	"github.com/angelmondragon/settlement-ledger/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Process is one running binary. Resources opened through it are closed in
// reverse order by Close, including on a fatal start-up error.
type Process struct {
	Cfg  *config.Config
	Logg *logger.Logger

	closers []closer
	exit    func(int)
}

// Start loads .env and config and builds the configured logger. It exits
// the process when config is invalid.
func Start(kind string) *Process {
	p := &Process{Logg: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	if err := godotenv.Load(); err != nil {
		p.Logg.Debug(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	p.Must("config", err)
	cfg.Service.Kind = kind
	p.Cfg = cfg
	p.Logg = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return p
}

// Must stops the process when a required resource failed to come up.
func (p *Process) Must(resource string, err error) {
	if err == nil {
		return
	}
	p.Logg.Error(context.Background(), fmt.Sprintf("resource not working: %s", resource), err)
	p.Close()
	p.exit(1)
}

// OnClose registers fn to run at shutdown.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logg.Error(context.Background(), "error closing "+c.name, err)
		}
	}
	p.closers = nil
}

// Database opens the ledger database and, in dev with auto-migrate on,
// applies pending migrations.
func (p *Process) Database(ctx context.Context) *db.Client {
	client, err := db.New(ctx, p.Cfg.DB, p.Cfg.FeatureFlags.UseSQLite, p.Logg)
	p.Must("database", err)
	p.OnClose("database", client.Close)
	p.Must("dev migrations", migrate.MaybeRunDev(ctx, p.Cfg, p.Logg, client))
	return client
}

func (p *Process) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, p.Cfg.Redis, p.Logg)
	p.Must("redis", err)
	p.OnClose("redis", client.Close)
	return client
}

func (p *Process) PubSub(ctx context.Context) *pubsub.Client {
	client, err := pubsub.NewClient(ctx, p.Cfg.GCP, p.Cfg.PubSub, p.Logg)
	p.Must("pubsub", err)
	p.OnClose("pubsub", client.Close)
	return client
}

// RunContext is cancelled on SIGINT or SIGTERM and carries the process
// identity fields.
func (p *Process) RunContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logg.WithFields(ctx, map[string]any{
		"env":         p.Cfg.App.Env,
		"serviceKind": p.Cfg.Service.Kind,
		"instance":    instance.GetID(),
	}), stop
}
