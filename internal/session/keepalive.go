// Package session manages the brokerage session lifecycle: initial
// authentication with backoff and the periodic keep-alive loop.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
)

// API is the session-management side of the brokerage gateway.
type API interface {
	BrokerageAccounts(ctx context.Context) error
	Tickle(ctx context.Context) error
	AuthStatus(ctx context.Context) (bool, error)
	Reauthenticate(ctx context.Context) error
	Logout(ctx context.Context) error
}

const maxInitBackoff = 64 * time.Second

// Init establishes the brokerage session, retrying with exponential
// backoff until it succeeds or ctx is cancelled. The accounts call is
// what actually primes the session server-side.
func Init(ctx context.Context, api API, log *logger.Logger) error {
	backoff := 2 * time.Second
	for attempt := 1; ; attempt++ {
		log.Info("initialising brokerage session", zap.Int("attempt", attempt))
		err := api.BrokerageAccounts(ctx)
		if err == nil {
			return nil
		}
		log.Error("brokerage session init failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxInitBackoff {
			backoff *= 2
		}
	}
}

// KeepAlive periodically tickles the session and reauthenticates when
// the brokerage reports the session expired.
type KeepAlive struct {
	API      API
	Interval time.Duration // default 60s
	Logger   *logger.Logger
}

// Run loops until ctx is cancelled, then logs out. Errors inside an
// iteration are logged and swallowed; the loop always continues.
func (k *KeepAlive) Run(ctx context.Context) {
	interval := k.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.Logger.Info("session keep-alive exiting")
			logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := k.API.Logout(logoutCtx); err != nil {
				k.Logger.Error("logout failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *KeepAlive) tick(ctx context.Context) {
	if err := k.API.Tickle(ctx); err != nil {
		k.Logger.Error("session tickle failed", zap.Error(err))
		return
	}
	authenticated, err := k.API.AuthStatus(ctx)
	if err != nil {
		k.Logger.Error("session auth status failed", zap.Error(err))
		return
	}
	k.Logger.Info("brokerage session status", zap.Bool("authenticated", authenticated))
	if !authenticated {
		if err := k.API.Reauthenticate(ctx); err != nil {
			k.Logger.Error("session reauthentication failed", zap.Error(err))
		}
	}
}
