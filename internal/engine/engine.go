// Package engine drives the order resolution cycle: load pending
// orders, resolve symbols to instrument ids, snapshot quotes, decide
// fills and net them into portfolios.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/store"
	"github.com/damian-anslik/cpapi-app/metrics"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

// Config holds the scheduler parameters.
type Config struct {
	// Interval between cycles.
	Interval time.Duration
	// HousekeepEvery releases standing quote subscriptions after this
	// many cycles. Cost control on the quote source.
	HousekeepEvery int
}

// Components are the engine's injected collaborators.
type Components struct {
	Orders     store.OrderStore
	Portfolios store.PortfolioStore
	Committer  store.Committer
	Directory  store.SymbolDirectory
	Quotes     QuoteSource
	Logger     *logger.Logger

	// OnFill, when set, is invoked after each committed fill.
	OnFill func(FillEvent)
}

// FillEvent is published to OnFill after a fill has been persisted.
type FillEvent struct {
	PortfolioID string         `json:"portfolio_id"`
	OrderID     string         `json:"order_id"`
	Fill        portfolio.Fill `json:"fill"`
}

// Statistics tracks engine activity counters.
type Statistics struct {
	StartTime     time.Time
	TotalCycles   int64
	TotalFills    int64
	TotalSkipped  int64
	TotalErrors   int64
	LastCycleTime time.Time

	mu sync.RWMutex
}

// Engine runs the resolution loop as a single sequential task.
type Engine struct {
	config Config
	comp   Components
	log    *logger.Logger

	mu       sync.RWMutex
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}

	stats Statistics
}

// New validates config and components and builds the engine.
func New(cfg Config, comp Components) (*Engine, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.HousekeepEvery <= 0 {
		cfg.HousekeepEvery = 10
	}
	if err := validateComponents(comp); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	return &Engine{
		config:   cfg,
		comp:     comp,
		log:      comp.Logger,
		interval: cfg.Interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

func validateComponents(comp Components) error {
	if comp.Orders == nil {
		return errors.New("order store is required")
	}
	if comp.Portfolios == nil {
		return errors.New("portfolio store is required")
	}
	if comp.Committer == nil {
		return errors.New("committer is required")
	}
	if comp.Directory == nil {
		return errors.New("symbol directory is required")
	}
	if comp.Quotes == nil {
		return errors.New("quote source is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Start launches the resolution loop.
func (e *Engine) Start(ctx context.Context) {
	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()

	e.log.Info("order engine starting",
		zap.Duration("interval", e.Interval()),
		zap.Int("housekeep_every", e.config.HousekeepEvery))
	go e.run(ctx)
}

// Stop signals the loop and waits for it to finish.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.log.Warn("timeout waiting for engine to stop")
	}
}

// Interval returns the current cycle interval.
func (e *Engine) Interval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interval
}

// SetInterval updates the cycle interval; the loop picks it up at the
// next tick. Used by config hot reload.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	changed := d != e.interval
	e.interval = d
	e.mu.Unlock()
	if changed {
		e.log.Info("cycle interval updated", zap.Duration("interval", d))
	}
}

// run is the scheduler: one sequential cycle per tick, a subscription
// release every HousekeepEvery cycles and once more on shutdown.
// Cancellation is observed at the loop boundary only; in-flight I/O is
// allowed to complete or fail first.
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	interval := e.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cyclesSinceHousekeep := 0
	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, stopping engine")
			e.releaseSubscriptions()
			return
		case <-e.stopChan:
			e.log.Info("stop signal received")
			e.releaseSubscriptions()
			return
		case <-ticker.C:
			e.runCycle(ctx)
			cyclesSinceHousekeep++
			if cyclesSinceHousekeep >= e.config.HousekeepEvery {
				e.releaseSubscriptions()
				cyclesSinceHousekeep = 0
			}
			if cur := e.Interval(); cur != interval {
				interval = cur
				ticker.Reset(interval)
			}
		}
	}
}

// runCycle executes one full pass: orders, instruments, quotes, fills.
func (e *Engine) runCycle(ctx context.Context) {
	e.stats.mu.Lock()
	e.stats.TotalCycles++
	e.stats.LastCycleTime = time.Now()
	e.stats.mu.Unlock()
	metrics.CyclesTotal.Inc()

	orders, err := e.comp.Orders.ListPending(ctx)
	if err != nil {
		e.recordError()
		e.log.Error("failed to list pending orders", zap.Error(err))
		return
	}
	metrics.PendingOrders.Set(float64(len(orders)))
	e.log.Info("orders to process", zap.Int("count", len(orders)))

	instruments, err := resolveInstruments(ctx, e.comp.Directory, orders, e.log)
	if err != nil {
		e.recordError()
		e.log.Error("instrument resolution failed", zap.Error(err))
		return
	}

	quotes := buildQuoteCache(ctx, e.comp.Quotes, instruments, e.log)

	for _, o := range orders {
		e.processOrder(ctx, o, quotes, instruments)
	}
}

// processOrder evaluates one order against this cycle's quotes. Each
// order is evaluated at most once per cycle and left untouched unless
// its fill fully commits.
func (e *Engine) processOrder(ctx context.Context, o portfolio.Order, quotes QuoteCache, instruments InstrumentMap) {
	quote, ok := quotes[o.Symbol]
	if !ok {
		e.stats.mu.Lock()
		e.stats.TotalSkipped++
		e.stats.mu.Unlock()
		metrics.OrdersSkipped.Inc()
		e.log.Info("skipping order without market data",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol))
		return
	}

	price, fills := decide(o, quote, e.log)
	if !fills {
		return
	}

	conID, _ := instruments.ConID(o.Symbol)
	fill := portfolio.NewFill(o, conID, price)
	if err := e.applyFill(ctx, o, fill); err != nil {
		e.recordError()
		metrics.CommitFailures.Inc()
		e.log.Error("fill not committed, order stays pending",
			zap.String("order_id", o.ID),
			zap.String("portfolio_id", o.PortfolioID),
			zap.Error(err))
		return
	}

	e.stats.mu.Lock()
	e.stats.TotalFills++
	e.stats.mu.Unlock()
	metrics.FillsTotal.WithLabelValues(string(fill.Side)).Inc()
	e.log.Info("order filled",
		zap.String("order_id", o.ID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("value", fill.Value))

	if e.comp.OnFill != nil {
		e.comp.OnFill(FillEvent{
			PortfolioID: o.PortfolioID,
			OrderID:     o.ID,
			Fill:        fill,
		})
	}
}

// decide returns the fill price and whether the order executes this
// cycle. Market orders always cross; limit orders cross only when the
// quote satisfies the limit. Either way the taker pays the crossing
// price: ask for a buy, bid for a sell.
func decide(o portfolio.Order, q Quote, log *logger.Logger) (float64, bool) {
	switch o.Type {
	case portfolio.TypeMarket:
	case portfolio.TypeLimit:
		if o.Side == portfolio.SideBuy && q.Ask > o.LimitPrice {
			return 0, false
		}
		if o.Side == portfolio.SideSell && q.Bid < o.LimitPrice {
			return 0, false
		}
	default:
		log.Error("invalid order type, defaulting to MKT",
			zap.String("order_id", o.ID),
			zap.String("order_type", string(o.Type)))
	}
	if o.Side == portfolio.SideBuy {
		return q.Ask, true
	}
	return q.Bid, true
}

// applyFill nets the fill into the owning portfolio and retires the
// order, committing both as one unit.
func (e *Engine) applyFill(ctx context.Context, o portfolio.Order, fill portfolio.Fill) error {
	p, err := e.comp.Portfolios.GetPortfolio(ctx, o.PortfolioID)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	updated := p.ApplyFill(fill, o.ID)
	if err := e.comp.Committer.CommitFill(ctx, updated, o.ID); err != nil {
		return fmt.Errorf("commit fill: %w", err)
	}
	return nil
}

// releaseSubscriptions asks the quote source to drop standing
// subscriptions. Failures are logged and swallowed.
func (e *Engine) releaseSubscriptions() {
	e.log.Info("releasing market data subscriptions")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.comp.Quotes.ReleaseAllSubscriptions(ctx); err != nil {
		e.log.Error("failed to release subscriptions", zap.Error(err))
	}
}

func (e *Engine) recordError() {
	e.stats.mu.Lock()
	e.stats.TotalErrors++
	e.stats.mu.Unlock()
}

// GetStatistics returns a copy of the activity counters.
func (e *Engine) GetStatistics() Statistics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return Statistics{
		StartTime:     e.stats.StartTime,
		TotalCycles:   e.stats.TotalCycles,
		TotalFills:    e.stats.TotalFills,
		TotalSkipped:  e.stats.TotalSkipped,
		TotalErrors:   e.stats.TotalErrors,
		LastCycleTime: e.stats.LastCycleTime,
	}
}
