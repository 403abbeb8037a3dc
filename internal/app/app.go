// Package app builds the automation service from its configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/liamcoop/automations/actions"
	"github.com/liamcoop/automations/events"
	"github.com/liamcoop/automations/httpretry"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/llm"
	"github.com/liamcoop/automations/migrations"
	"github.com/liamcoop/automations/rules"
	redis "github.com/redis/go-redis/v9"
)

// App holds the wired components of the service
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *sql.DB
	Store      rules.RuleStore
	Engine     *rules.Engine
	Dispatcher *actions.Dispatcher
	Redis      *redis.Client
	PubSub     *gochannel.GoChannel
	Bridge     *events.Bridge
}

// New opens the database, applies migrations when enabled and builds the engine
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, dialect, err := rules.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	if cfg.AutoMigrate {
		if err := migrations.Apply(db, string(dialect)); err != nil {
			_ = a.Close()
			return nil, err
		}
		logger.InfoContext(ctx, "migrations applied", "dialect", dialect)
	}
	a.Store = rules.NewSQLRuleStore(db, dialect)

	cache, err := a.newCache(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	chat, err := NewChatCompleter(cfg.Chat)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	client := httpretry.NewClient(
		httpretry.WithDoer(&http.Client{Timeout: cfg.HTTPTimeout}),
		httpretry.WithPolicy(RetryPolicy(cfg.Retry)),
		httpretry.WithLogger(logger),
	)

	dispatcherOpts := []actions.Option{
		actions.WithHTTPClient(client),
		actions.WithLogger(logger),
		actions.WithWebhookTimeout(cfg.HTTPTimeout),
	}
	if chat != nil {
		dispatcherOpts = append(dispatcherOpts, actions.WithChatCompleter(chat))
	}
	a.Dispatcher = actions.New(dispatcherOpts...)

	engineOpts := []rules.EngineOption{rules.WithLogger(logger)}
	if cache != nil {
		engineOpts = append(engineOpts, rules.WithCache(cache))
	}
	a.Engine, err = rules.NewEngine(a.Store, a.Dispatcher, engineOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.EventsEnabled {
		a.PubSub = events.NewGoChannel(logger, false)
		a.Bridge = events.NewBridge(a.Engine, a.PubSub, a.PubSub, logger)
	}

	return a, nil
}

// newCache builds the configured rules cache; nil means the engine reads the store on every pass
func (a *App) newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rules.RulesCache, error) {
	cacheConfig := rules.CacheConfig{TTL: cfg.CacheTTL}
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return rules.NewInMemoryRulesCache(cacheConfig), nil
	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return rules.NewRedisRulesCache(a.Redis, "", cacheConfig, logger), nil
	default:
		return nil, nil
	}
}

// RetryPolicy converts the configured retry settings
func RetryPolicy(rc config.RetryConfig) httpretry.Policy {
	p := httpretry.DefaultPolicy()
	p.Retries = rc.Retries
	p.BaseDelay = rc.BaseDelay
	p.MaxJitter = rc.MaxJitter
	return p
}

// NewChatCompleter returns the configured model, or nil when none is configured
func NewChatCompleter(cc config.ChatConfig) (llm.ChatCompleter, error) {
	switch cc.Provider {
	case "", config.ChatNone:
		return nil, nil
	case config.ChatOpenAI:
		return llm.NewOpenAI(func(o *llm.OpenAIOptions) {
			o.APIKey = cc.APIKey
			if cc.Model != "" {
				o.Model = cc.Model
			}
		}), nil
	case config.ChatAnthropic:
		return llm.NewAnthropic(func(o *llm.AnthropicOptions) {
			o.APIKey = cc.APIKey
			if cc.Model != "" {
				o.Model = anthropic.Model(cc.Model)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cc.Provider)
	}
}

// Close releases every resource New opened
func (a *App) Close() error {
	var errs []error
	if a.PubSub != nil {
		errs = append(errs, a.PubSub.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
