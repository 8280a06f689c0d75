package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-anslik/cpapi-app/gateway"
	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/store"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

// fakeQuoteSource scripts snapshot responses and records calls.
type fakeQuoteSource struct {
	rows     []gateway.SnapshotRow
	err      error
	snaps    int
	releases int
}

func (f *fakeQuoteSource) Snapshot(ctx context.Context, conids []int64) ([]gateway.SnapshotRow, error) {
	f.snaps++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeQuoteSource) ReleaseAllSubscriptions(ctx context.Context) error {
	f.releases++
	return nil
}

func quoteRow(conID int64, bid, ask float64) gateway.SnapshotRow {
	return gateway.SnapshotRow{ConID: conID, Bid: bid, Ask: ask, HasBid: true, HasAsk: true}
}

type fixture struct {
	mem    *store.Memory
	quotes *fakeQuoteSource
	eng    *Engine
}

func newFixture(t *testing.T, quotes *fakeQuoteSource) *fixture {
	t.Helper()
	mem := store.NewMemory()
	eng, err := New(Config{}, Components{
		Orders:     mem,
		Portfolios: mem,
		Committer:  mem,
		Directory:  mem,
		Quotes:     quotes,
		Logger:     logger.NewNop(),
	})
	require.NoError(t, err)
	return &fixture{mem: mem, quotes: quotes, eng: eng}
}

func (f *fixture) seed(t *testing.T, p portfolio.Portfolio, orders ...portfolio.Order) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mem.PutPortfolio(ctx, p))
	for _, o := range orders {
		require.NoError(t, f.mem.PutOrder(ctx, o))
	}
}

func (f *fixture) pendingIDs(t *testing.T) []string {
	t.Helper()
	orders, err := f.mem.ListPending(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.50, 9.55)}}
	f := newFixture(t, quotes)
	require.NoError(t, f.mem.PutContract(context.Background(), store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 10},
	)

	f.eng.runCycle(context.Background())

	p, err := f.mem.GetPortfolio(context.Background(), "pf-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, portfolio.Position{Symbol: "ABC", ConID: 42, Side: portfolio.SideBuy, Quantity: 10, Value: 95.5}, p.Positions[0])
	assert.Empty(t, p.Orders)
	assert.Empty(t, f.pendingIDs(t))
}

func TestMarketSellFillsAtBid(t *testing.T) {
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.60, 9.65)}}
	f := newFixture(t, quotes)
	require.NoError(t, f.mem.PutContract(context.Background(), store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{
			ID:        "pf-1",
			Orders:    []string{"ord-1"},
			Positions: []portfolio.Position{{Symbol: "ABC", ConID: 42, Side: portfolio.SideBuy, Quantity: 10, Value: 95.5}},
		},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideSell, Quantity: 4},
	)

	f.eng.runCycle(context.Background())

	p, err := f.mem.GetPortfolio(context.Background(), "pf-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, portfolio.SideBuy, p.Positions[0].Side)
	assert.InDelta(t, 6.0, p.Positions[0].Quantity, 1e-9)
	assert.InDelta(t, 57.1, p.Positions[0].Value, 1e-9) // 95.50 - 4*9.60
}

func TestLimitBuyRespectsLimit(t *testing.T) {
	ctx := context.Background()
	order := portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeLimit, Side: portfolio.SideBuy, Quantity: 5, LimitPrice: 9.50}

	// Ask above the limit: no fill, order unchanged.
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.48, 9.55)}}
	f := newFixture(t, quotes)
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t, portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}}, order)

	f.eng.runCycle(ctx)
	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))

	// Ask at the limit: fills at the ask.
	quotes.rows = []gateway.SnapshotRow{quoteRow(42, 9.45, 9.50)}
	f.eng.runCycle(ctx)
	assert.Empty(t, f.pendingIDs(t))
	p, err := f.mem.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.InDelta(t, 47.5, p.Positions[0].Value, 1e-9)
}

func TestLimitSellRespectsLimit(t *testing.T) {
	ctx := context.Background()
	order := portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeLimit, Side: portfolio.SideSell, Quantity: 5, LimitPrice: 10.00}

	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.95, 10.05)}}
	f := newFixture(t, quotes)
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t, portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}}, order)

	f.eng.runCycle(ctx)
	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))

	quotes.rows = []gateway.SnapshotRow{quoteRow(42, 10.00, 10.10)}
	f.eng.runCycle(ctx)
	assert.Empty(t, f.pendingIDs(t))
	p, err := f.mem.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, portfolio.SideSell, p.Positions[0].Side)
	assert.InDelta(t, 5.0, p.Positions[0].Quantity, 1e-9)
	assert.InDelta(t, 50.0, p.Positions[0].Value, 1e-9) // fills at bid
}

func TestUnknownOrderTypeDefaultsToMarket(t *testing.T) {
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.50, 9.55)}}
	f := newFixture(t, quotes)
	ctx := context.Background()
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: "STP", Side: portfolio.SideBuy, Quantity: 2},
	)

	f.eng.runCycle(ctx)
	assert.Empty(t, f.pendingIDs(t))
	p, err := f.mem.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.InDelta(t, 19.1, p.Positions[0].Value, 1e-9) // 2 * ask
}

func TestOrderWithoutQuoteIsDeferred(t *testing.T) {
	// Directory entry exists but the snapshot has no usable quote.
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{{ConID: 42, Bid: 9.50, HasBid: true}}}
	f := newFixture(t, quotes)
	ctx := context.Background()
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 1},
	)

	f.eng.runCycle(ctx)

	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))
	p, err := f.mem.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
	assert.Equal(t, []string{"ord-1"}, p.Orders)
}

func TestUnresolvedSymbolIsDeferred(t *testing.T) {
	// No directory entry at all: resolver leaves the symbol out and the
	// order waits.
	quotes := &fakeQuoteSource{}
	f := newFixture(t, quotes)
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "MISSING", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 1},
	)

	f.eng.runCycle(context.Background())
	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))
}

func TestSnapshotFailureDefersWholeCycle(t *testing.T) {
	quotes := &fakeQuoteSource{err: errors.New("gateway unreachable")}
	f := newFixture(t, quotes)
	ctx := context.Background()
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 1},
	)

	f.eng.runCycle(ctx)

	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))
	stats := f.eng.GetStatistics()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(0), stats.TotalFills)
}

func TestCommitFailureKeepsOrderPending(t *testing.T) {
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{quoteRow(42, 9.50, 9.55)}}
	f := newFixture(t, quotes)
	ctx := context.Background()
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 10},
	)
	f.mem.CommitErr = errors.New("write conflict")

	f.eng.runCycle(ctx)

	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))
	p, err := f.mem.GetPortfolio(ctx, "pf-1")
	require.NoError(t, err)
	assert.Empty(t, p.Positions)

	// Store recovers: the retry on the next cycle succeeds.
	f.mem.CommitErr = nil
	f.eng.runCycle(ctx)
	assert.Empty(t, f.pendingIDs(t))
}

func TestEmptyOrderSetSkipsCollaborators(t *testing.T) {
	quotes := &fakeQuoteSource{}
	f := newFixture(t, quotes)

	f.eng.runCycle(context.Background())
	assert.Equal(t, 0, quotes.snaps)
}

func TestUnresolvedConidInSnapshotIsRejected(t *testing.T) {
	quotes := &fakeQuoteSource{rows: []gateway.SnapshotRow{
		quoteRow(999, 1.00, 1.01), // conid the resolver never produced
	}}
	f := newFixture(t, quotes)
	ctx := context.Background()
	require.NoError(t, f.mem.PutContract(ctx, store.Contract{Symbol: "ABC", ConID: 42}))
	f.seed(t,
		portfolio.Portfolio{ID: "pf-1", Orders: []string{"ord-1"}},
		portfolio.Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Type: portfolio.TypeMarket, Side: portfolio.SideBuy, Quantity: 1},
	)

	f.eng.runCycle(ctx)

	// The stray row must not be attributed to any symbol.
	assert.Equal(t, []string{"ord-1"}, f.pendingIDs(t))
}

func TestDecideFillPrices(t *testing.T) {
	q := Quote{Bid: 9.50, Ask: 9.55}
	log := logger.NewNop()

	price, fills := decide(portfolio.Order{Type: portfolio.TypeMarket, Side: portfolio.SideBuy}, q, log)
	assert.True(t, fills)
	assert.Equal(t, 9.55, price)

	price, fills = decide(portfolio.Order{Type: portfolio.TypeMarket, Side: portfolio.SideSell}, q, log)
	assert.True(t, fills)
	assert.Equal(t, 9.50, price)
}

func TestNewValidatesComponents(t *testing.T) {
	_, err := New(Config{}, Components{})
	assert.Error(t, err)
}

// The loop releases subscriptions once every HousekeepEvery cycles and
// exactly once more on shutdown.
func TestSchedulerReleaseCadence(t *testing.T) {
	quotes := &fakeQuoteSource{}
	mem := store.NewMemory()
	eng, err := New(Config{Interval: 5 * time.Millisecond, HousekeepEvery: 3}, Components{
		Orders:     mem,
		Portfolios: mem,
		Committer:  mem,
		Directory:  mem,
		Quotes:     quotes,
		Logger:     logger.NewNop(),
	})
	require.NoError(t, err)

	eng.Start(context.Background())
	deadline := time.After(5 * time.Second)
	for eng.GetStatistics().TotalCycles < 7 {
		select {
		case <-deadline:
			t.Fatal("engine never cycled")
		case <-time.After(time.Millisecond):
		}
	}
	eng.Stop()

	stats := eng.GetStatistics()
	want := int(stats.TotalCycles/3) + 1
	assert.Equal(t, want, quotes.releases)
}

func TestContextCancelReleasesOnce(t *testing.T) {
	quotes := &fakeQuoteSource{}
	f := newFixture(t, quotes)

	ctx, cancel := context.WithCancel(context.Background())
	f.eng.Start(ctx)
	cancel()
	f.eng.Stop() // waits for the loop to exit

	// No cycle ran (default 5s interval); only the shutdown release.
	assert.Equal(t, 1, quotes.releases)
	assert.Equal(t, int64(0), f.eng.GetStatistics().TotalCycles)
}

func TestSetInterval(t *testing.T) {
	f := newFixture(t, &fakeQuoteSource{})
	assert.Equal(t, 5*time.Second, f.eng.Interval()) // default

	f.eng.SetInterval(2 * time.Second)
	assert.Equal(t, 2*time.Second, f.eng.Interval())

	// Non-positive updates are ignored.
	f.eng.SetInterval(0)
	assert.Equal(t, 2*time.Second, f.eng.Interval())
}
