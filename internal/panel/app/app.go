// Package app assembles the panel: extension directory, switch link, state
// store, session fan-out and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/action"
	"github.com/sebas/opdesk/internal/panel/ami"
	"github.com/sebas/opdesk/internal/panel/api"
	"github.com/sebas/opdesk/internal/panel/config"
	"github.com/sebas/opdesk/internal/panel/directory"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/session"
	"github.com/sebas/opdesk/internal/panel/state"
)

// Panel is the assembled service.
type Panel struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	store  *state.Store
	client *ami.Client
	hub    *session.Manager
	server *api.Server
}

// NewPanel builds every component from the configuration. The monitored
// extension set is loaded once here; changing it requires a restart.
func NewPanel(ctx context.Context, cfg *config.Config) (*Panel, error) {
	monitored, pool, err := loadDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := state.NewStore()
	client := ami.NewClient(ami.Config{
		Addr:         cfg.Switch.Addr,
		Username:     cfg.Switch.Username,
		Secret:       cfg.Switch.Secret,
		PingInterval: cfg.Switch.PingInterval.Duration(),
		BackoffMin:   cfg.Switch.BackoffMin.Duration(),
		BackoffMax:   cfg.Switch.BackoffMax.Duration(),
	}, monitored)

	hub := session.NewManager(session.Config{
		QueueSize: cfg.Session.QueueSize,
		Policy:    scope.Policy{OwnExtensionVisible: *cfg.Session.OwnExtensionVisible},
		Translate: action.Translator{Tech: cfg.Switch.ChannelTech},
	}, store, client)

	server := api.NewServer(cfg.ListenAddr, hub, store, operatorIndex(cfg.Operators))

	logger.Info("[App] Panel assembled",
		"extensions", len(monitored), "operators", len(cfg.Operators))

	return &Panel{
		cfg:    cfg,
		pool:   pool,
		store:  store,
		client: client,
		hub:    hub,
		server: server,
	}, nil
}

// Run starts every loop and blocks until the context ends or a component
// fails for good. The context ending is a normal shutdown, not an error.
func (p *Panel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.hub.Run(ctx)

	// Single writer: every switch event reaches the store through this
	// goroutine.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.client.Events():
				p.store.Apply(ev)
			}
		}
	}()

	linkErr := make(chan error, 1)
	go func() { linkErr <- p.client.Run(ctx) }()

	httpErr := p.server.Start()

	var err error
	select {
	case <-ctx.Done():
	case err = <-linkErr:
	case e := <-httpErr:
		err = fmt.Errorf("http server: %w", e)
	}
	cancel()

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if serr := p.server.Stop(stopCtx); serr != nil {
		logger.Warn("[App] HTTP shutdown incomplete", "error", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases resources held since NewPanel.
func (p *Panel) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// loadDirectory resolves the monitored extension set, from the database when
// a DSN is configured and from the inline list otherwise. A database failure
// at boot degrades to the inline list when one exists.
func loadDirectory(ctx context.Context, cfg *config.Config) (map[string]string, *pgxpool.Pool, error) {
	static := make(map[string]string, len(cfg.Directory.Extensions))
	for _, e := range cfg.Directory.Extensions {
		static[e.Number] = e.Name
	}

	if cfg.Directory.DSN != "" {
		monitored, pool, err := loadFromDB(ctx, cfg.Directory.DSN)
		if err == nil {
			return monitored, pool, nil
		}
		if len(static) == 0 {
			return nil, nil, err
		}
		logger.Warn("[App] Directory database unavailable, using the configured extension list",
			"error", err, "extensions", len(static))
	}

	if len(static) == 0 {
		logger.Warn("[App] Extension directory is empty; panel will monitor nothing")
	}
	return static, nil, nil
}

func loadFromDB(ctx context.Context, dsn string) (map[string]string, *pgxpool.Pool, error) {
	pool, err := directory.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	monitored, err := directory.Load(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return monitored, pool, nil
}

// operatorIndex keys the configured operators by token for authentication.
func operatorIndex(ops []config.Operator) map[string]scope.Identity {
	index := make(map[string]scope.Identity, len(ops))
	for _, op := range ops {
		index[op.Token] = scope.Identity{
			Name:       op.Name,
			Role:       scope.Role(op.Role),
			Extension:  op.Extension,
			Extensions: op.Extensions,
			Queues:     op.Queues,
			Actions:    op.Actions,
		}
	}
	return index
}
