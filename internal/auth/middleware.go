package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	UserID  int64
	Handle  string
	Display string
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// Chain holds both verifiers this system needs. The two schemes never guard
// the same route — Basic covers /caldav/*, Telegram initData covers /api/*
// — so callers pick the method directly rather than dispatching on header
// prefix.
type Chain struct {
	cfg      *config.Config
	logger   zerolog.Logger
	basic    *BasicAuth
	telegram *TelegramAuth
}

func NewChain(cfg *config.Config, st store.Store, logger zerolog.Logger) *Chain {
	return &Chain{
		cfg:      cfg,
		logger:   logger,
		basic:    NewBasicAuth(st, logger),
		telegram: NewTelegramAuth(st, cfg.Telegram.BotToken, logger),
	}
}

func (c *Chain) BasicAuthenticate(ctx context.Context, header string) (*Principal, error) {
	return c.basic.Authenticate(ctx, header)
}

func (c *Chain) TelegramAuthenticate(ctx context.Context, initData string) (*Principal, error) {
	return c.telegram.Authenticate(ctx, initData)
}
