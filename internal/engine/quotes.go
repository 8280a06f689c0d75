package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/gateway"
	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/metrics"
)

// QuoteSource is the market data side of the brokerage gateway.
type QuoteSource interface {
	Snapshot(ctx context.Context, conids []int64) ([]gateway.SnapshotRow, error)
	ReleaseAllSubscriptions(ctx context.Context) error
}

// Quote is one instrument's usable bid/ask for the current cycle.
type Quote struct {
	Bid float64
	Ask float64
}

// QuoteCache maps symbol to quote, rebuilt from scratch every cycle and
// discarded at cycle end.
type QuoteCache map[string]Quote

// buildQuoteCache requests a snapshot for the resolved instrument set
// and indexes usable quotes by symbol. Rows missing bid or ask are
// dropped whole. A wholesale snapshot failure leaves the cache empty:
// the cycle proceeds and every order simply waits for the next one.
// Rows for conids the resolver never produced indicate a resolver/cache
// inconsistency and are rejected loudly rather than misattributed.
func buildQuoteCache(ctx context.Context, src QuoteSource, instruments InstrumentMap, log *logger.Logger) QuoteCache {
	cache := make(QuoteCache)
	if instruments.Len() == 0 {
		return cache
	}

	rows, err := src.Snapshot(ctx, instruments.ConIDs())
	if err != nil {
		metrics.SnapshotErrors.Inc()
		log.Error("market data snapshot failed", zap.Error(err))
		return cache
	}

	for _, row := range rows {
		symbol, ok := instruments.Symbol(row.ConID)
		if !ok {
			metrics.QuoteMismatches.Inc()
			log.Error("snapshot returned unresolved conid",
				zap.Int64("conid", row.ConID))
			continue
		}
		if !row.HasBid || !row.HasAsk {
			log.Debug("dropping partial quote",
				zap.String("symbol", symbol),
				zap.Bool("has_bid", row.HasBid),
				zap.Bool("has_ask", row.HasAsk))
			continue
		}
		cache[symbol] = Quote{Bid: row.Bid, Ask: row.Ask}
	}
	metrics.QuoteCacheSize.Set(float64(len(cache)))
	return cache
}
