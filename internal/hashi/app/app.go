// Package app wires the Hashi relay bot together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/hashi/common/trace"
	"github.com/bdobrica/hashi/internal/hashi/limiter"
	"github.com/bdobrica/hashi/internal/hashi/matrix"
	"github.com/bdobrica/hashi/internal/hashi/provider"
	"github.com/bdobrica/hashi/internal/hashi/router"
	"github.com/bdobrica/hashi/internal/hashi/session"
	"github.com/bdobrica/hashi/internal/hashi/store"
)

// Config holds application configuration.
type Config struct {
	// ConfigPath points at the provider definition file (JSON or YAML).
	ConfigPath string
	// SessionsPath is the JSON file where sender bindings are persisted.
	SessionsPath string
	// DatabasePath is the SQLite database used for the Matrix sync token
	// and the bind audit trail.
	DatabasePath string
	Matrix       matrix.Config
	// HTTPTimeout bounds each upstream completion request. Defaults to
	// 30 s when zero.
	HTTPTimeout time.Duration
	// BindAttempts is the number of key submissions allowed per sender per
	// window before further attempts are blocked. Defaults to
	// limiter.DefaultLimit when zero.
	BindAttempts int
	// BindWindow is the rate-limit window. Defaults to limiter.DefaultWindow
	// when zero.
	BindWindow time.Duration
}

// App is the assembled Hashi bot.
type App struct {
	config   *Config
	store    *store.Store
	matrix   *matrix.Client
	sessions *session.Store
	router   *router.Router
}

// New builds the application from configuration. It opens the database,
// loads the provider registry and persisted sessions, and constructs the
// Matrix client, but does not start syncing.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry, err := provider.Load(config.ConfigPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load provider config: %w", err)
	}
	slog.Info("provider registry loaded", "path", config.ConfigPath, "providers", registry.Names())

	sessions := session.NewStore(config.SessionsPath)
	if err := sessions.Load(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	slog.Info("sessions loaded", "path", config.SessionsPath, "count", sessions.Count())

	// Inject the DB so the client can persist the sync token across restarts.
	matrixCfg := config.Matrix
	matrixCfg.DB = st.DB()
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	lim := limiter.New(config.BindAttempts, config.BindWindow)

	rt := router.New(router.Config{
		Registry: registry,
		Gateway:  provider.NewGateway(registry, config.HTTPTimeout),
		Sessions: sessions,
		Limiter:  lim,
		Audit:    st,
	})

	return &App{
		config:   config,
		store:    st,
		matrix:   matrixClient,
		sessions: sessions,
		router:   rt,
	}, nil
}

// Run starts the Matrix sync loop and blocks until an interrupt signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("Hashi is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop shuts down the Matrix client and closes the database.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage routes an incoming message and replies with the result.
// Each message gets a trace ID so its bind/forward/audit log lines can be
// correlated.
func (a *App) handleMessage(ctx context.Context, msg matrix.Message) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	// Log metadata only; the message body may contain an API key.
	slog.Debug("message received",
		"trace_id", trace.FromContext(ctx), "sender", msg.Sender, "room", msg.RoomID)

	// Upstream completions can take a while; show a typing indicator so the
	// sender knows the prompt was picked up.
	if err := a.matrix.SetTyping(ctx, msg.RoomID, true, 30*time.Second); err != nil {
		slog.Debug("failed to set typing indicator", "room", msg.RoomID, "err", err)
	}
	defer func() {
		if err := a.matrix.SetTyping(ctx, msg.RoomID, false, 0); err != nil {
			slog.Debug("failed to clear typing indicator", "room", msg.RoomID, "err", err)
		}
	}()

	reply := a.router.Handle(ctx, msg.Sender, msg.Text)
	if reply == "" {
		return
	}

	if err := a.matrix.Reply(ctx, msg.RoomID, msg.EventID, reply); err != nil {
		slog.Error("failed to send reply",
			"trace_id", trace.FromContext(ctx), "room", msg.RoomID, "err", err)
	}
}
