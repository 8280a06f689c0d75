package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
)

// ErrUnknownSymbol is returned when the symbol directory has no entry.
var ErrUnknownSymbol = errors.New("symbol not found")

// CacheStore persists history snapshots keyed by symbol.
type CacheStore interface {
	GetHistory(ctx context.Context, symbol string) (Snapshot, bool, error)
	PutHistory(ctx context.Context, snap Snapshot) error
}

// Directory resolves symbols to instrument identifiers.
type Directory interface {
	InstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error)
}

// BarSource fetches bars from the brokerage.
type BarSource interface {
	HistoricalBars(ctx context.Context, conID int64, period, barSize string) ([]Bar, error)
}

// Service answers history requests from the cache, refreshing entries
// older than MaxAge from the brokerage.
type Service struct {
	Cache     CacheStore
	Directory Directory
	Source    BarSource
	Logger    *logger.Logger

	MaxAge  time.Duration // default 24h
	Period  string        // default "1y"
	BarSize string        // default "1d"

	now func() time.Time
}

func (s *Service) maxAge() time.Duration {
	if s.MaxAge <= 0 {
		return 24 * time.Hour
	}
	return s.MaxAge
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Get returns the history snapshot for symbol, fetching and caching it
// when absent or stale. Unknown symbols yield ErrUnknownSymbol.
func (s *Service) Get(ctx context.Context, symbol string) (Snapshot, error) {
	snap, ok, err := s.Cache.GetHistory(ctx, symbol)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read history cache: %w", err)
	}
	if ok && s.clock().Sub(snap.LastUpdated) <= s.maxAge() {
		return snap, nil
	}

	ids, err := s.Directory.InstrumentIDs(ctx, []string{symbol})
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve symbol %s: %w", symbol, err)
	}
	conID, ok := ids[symbol]
	if !ok {
		return Snapshot{}, ErrUnknownSymbol
	}

	period := s.Period
	if period == "" {
		period = "1y"
	}
	barSize := s.BarSize
	if barSize == "" {
		barSize = "1d"
	}
	s.Logger.Info("requesting historical data",
		zap.String("symbol", symbol),
		zap.Int64("conid", conID),
		zap.String("period", period),
		zap.String("bar", barSize))

	bars, err := s.Source.HistoricalBars(ctx, conID, period, barSize)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}

	snap = Snapshot{
		Symbol:      symbol,
		LastUpdated: s.clock(),
		Bars:        FilterBars(bars),
	}
	if err := s.Cache.PutHistory(ctx, snap); err != nil {
		return Snapshot{}, fmt.Errorf("cache history for %s: %w", symbol, err)
	}
	return snap, nil
}
