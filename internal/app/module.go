package app

import (
	"context"
	"time"

	"github.com/wtchat/wtchat/internal/api"
	"github.com/wtchat/wtchat/internal/bus"
	"github.com/wtchat/wtchat/internal/config"
	"github.com/wtchat/wtchat/internal/logging"
	"github.com/wtchat/wtchat/internal/session"
	"github.com/wtchat/wtchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved invocation configuration passed to the fx module.
type Params struct {
	SessionName string
	// ServerURL overrides the configured server, mainly for testing.
	ServerURL string
}

// App bundles the wired components for consumers that populate the graph in
// one shot instead of requesting pieces individually.
type App struct {
	Config   config.Config
	Bus      *bus.Bus
	Logger   *zap.Logger
	Session  *session.Session
	Client   *api.Client
	Chats    *store.ChatDirectory
	Contacts *store.ContactDirectory
	Members  *store.MembershipController
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideSession,
			provideClient,
			provideChatDirectory,
			provideContactDirectory,
			provideMembership,
			newApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) config.Config {
	var cfg config.Config
	if loaded, err := config.Load(session.ConfigPath()); err == nil {
		cfg = *loaded
	}
	resolved := cfg.Resolved()
	if p.ServerURL != "" {
		resolved.ServerURL = p.ServerURL
	}
	return resolved
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogDir(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideSession restores the persisted identity, if any. A login command
// establishes fresh credentials and saves them for the next invocation.
func provideSession(p Params, b *bus.Bus) (*session.Session, error) {
	s := session.New(p.SessionName, b)
	if err := s.LoadCredentials(); err != nil {
		return nil, err
	}
	return s, nil
}

func provideClient(cfg config.Config, s *session.Session, logger *zap.Logger) (*api.Client, error) {
	return api.New(api.Config{
		BaseURL: cfg.ServerURL,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, s, logger)
}

func provideChatDirectory(client *api.Client, s *session.Session, b *bus.Bus, logger *zap.Logger) *store.ChatDirectory {
	return store.NewChatDirectory(client, store.User{ID: s.UserID()}, b, logger)
}

func provideContactDirectory(client *api.Client, s *session.Session, b *bus.Bus, logger *zap.Logger) *store.ContactDirectory {
	return store.NewContactDirectory(client, s.UserID(), b, logger)
}

func provideMembership(chats *store.ChatDirectory, client *api.Client, logger *zap.Logger) *store.MembershipController {
	return store.NewMembershipController(chats, client, logger)
}

func newApp(cfg config.Config, b *bus.Bus, logger *zap.Logger, s *session.Session, client *api.Client,
	chats *store.ChatDirectory, contacts *store.ContactDirectory, members *store.MembershipController) *App {
	return &App{
		Config:   cfg,
		Bus:      b,
		Logger:   logger,
		Session:  s,
		Client:   client,
		Chats:    chats,
		Contacts: contacts,
		Members:  members,
	}
}

func registerLifecycle(lc fx.Lifecycle, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
}
