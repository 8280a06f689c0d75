package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/damian-anslik/cpapi-app/history"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

// Memory is an in-memory implementation of every store contract.
type Memory struct {
	mu         sync.RWMutex
	orders     map[string]portfolio.Order
	portfolios map[string]portfolio.Portfolio
	contracts  map[string]int64
	histories  map[string]history.Snapshot

	// CommitErr, when set, makes CommitFill fail. Lets tests exercise the
	// order-stays-pending guarantee.
	CommitErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:     make(map[string]portfolio.Order),
		portfolios: make(map[string]portfolio.Portfolio),
		contracts:  make(map[string]int64),
		histories:  make(map[string]history.Snapshot),
	}
}

func (s *Memory) ListPending(ctx context.Context) ([]portfolio.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]portfolio.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) PutOrder(ctx context.Context, o portfolio.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *Memory) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *Memory) GetPortfolio(ctx context.Context, id string) (portfolio.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[id]
	if !ok {
		return portfolio.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *Memory) PutPortfolio(ctx context.Context, p portfolio.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[p.ID] = p
	return nil
}

func (s *Memory) CommitFill(ctx context.Context, p portfolio.Portfolio, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	s.portfolios[p.ID] = p
	delete(s.orders, orderID)
	return nil
}

func (s *Memory) InstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		if id, ok := s.contracts[sym]; ok {
			out[sym] = id
		}
	}
	return out, nil
}

func (s *Memory) PutContract(ctx context.Context, c Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.Symbol] = c.ConID
	return nil
}

func (s *Memory) GetHistory(ctx context.Context, symbol string) (history.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.histories[symbol]
	return snap, ok, nil
}

func (s *Memory) PutHistory(ctx context.Context, snap history.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[snap.Symbol] = snap
	return nil
}

var (
	_ OrderStore         = (*Memory)(nil)
	_ PortfolioStore     = (*Memory)(nil)
	_ SymbolDirectory    = (*Memory)(nil)
	_ Committer          = (*Memory)(nil)
	_ history.CacheStore = (*Memory)(nil)
)
