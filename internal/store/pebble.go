package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/damian-anslik/cpapi-app/history"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

// Pebble implements every store contract on a single pebble database.
// Values are JSON documents; keys are prefixed per collection.
type Pebble struct {
	db *pebble.DB
}

// key prefixes: o:<order-id>, p:<portfolio-id>, s:<symbol>, h:<symbol>
func kOrder(id string) []byte     { return append([]byte("o:"), id...) }
func kPortfolio(id string) []byte { return append([]byte("p:"), id...) }
func kContract(sym string) []byte { return append([]byte("s:"), sym...) }
func kHistory(sym string) []byte  { return append([]byte("h:"), sym...) }
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

// Close closes the underlying database.
func (s *Pebble) Close() error { return s.db.Close() }

func (s *Pebble) set(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (s *Pebble) get(key []byte, v interface{}) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get: %w", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}
	return true, nil
}

// ListPending returns every pending order.
func (s *Pebble) ListPending(ctx context.Context) ([]portfolio.Order, error) {
	prefix := []byte("o:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("order iterator: %w", err)
	}
	defer iter.Close()

	var orders []portfolio.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o portfolio.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // skip undecodable entries
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// PutOrder writes an order into the pending set.
func (s *Pebble) PutOrder(ctx context.Context, o portfolio.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.set(kOrder(o.ID), o)
}

// DeleteOrder removes an order from the pending set.
func (s *Pebble) DeleteOrder(ctx context.Context, id string) error {
	if err := s.db.Delete(kOrder(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// GetPortfolio loads one portfolio document.
func (s *Pebble) GetPortfolio(ctx context.Context, id string) (portfolio.Portfolio, error) {
	var p portfolio.Portfolio
	ok, err := s.get(kPortfolio(id), &p)
	if err != nil {
		return portfolio.Portfolio{}, err
	}
	if !ok {
		return portfolio.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// PutPortfolio overwrites one portfolio document.
func (s *Pebble) PutPortfolio(ctx context.Context, p portfolio.Portfolio) error {
	return s.set(kPortfolio(p.ID), p)
}

// CommitFill writes the portfolio and deletes the pending order in one
// synced batch, so a fill can never retire its order without the
// position change landing, or vice versa.
func (s *Pebble) CommitFill(ctx context.Context, p portfolio.Portfolio, orderID string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal portfolio: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kPortfolio(p.ID), data, nil); err != nil {
		return fmt.Errorf("batch portfolio: %w", err)
	}
	if err := batch.Delete(kOrder(orderID), nil); err != nil {
		return fmt.Errorf("batch order delete: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit fill: %w", err)
	}
	return nil
}

// InstrumentIDs resolves the given symbols against the directory.
// Symbols without a contract entry are left out of the result.
func (s *Pebble) InstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error) {
	out := make(map[string]int64, len(symbols))
	for _, sym := range symbols {
		var c Contract
		ok, err := s.get(kContract(sym), &c)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", sym, err)
		}
		if ok {
			out[sym] = c.ConID
		}
	}
	return out, nil
}

// PutContract writes one symbol directory entry.
func (s *Pebble) PutContract(ctx context.Context, c Contract) error {
	return s.set(kContract(c.Symbol), c)
}

// GetHistory loads a cached history snapshot.
func (s *Pebble) GetHistory(ctx context.Context, symbol string) (history.Snapshot, bool, error) {
	var snap history.Snapshot
	ok, err := s.get(kHistory(symbol), &snap)
	return snap, ok, err
}

// PutHistory caches a history snapshot.
func (s *Pebble) PutHistory(ctx context.Context, snap history.Snapshot) error {
	return s.set(kHistory(snap.Symbol), snap)
}

var (
	_ OrderStore         = (*Pebble)(nil)
	_ PortfolioStore     = (*Pebble)(nil)
	_ SymbolDirectory    = (*Pebble)(nil)
	_ Committer          = (*Pebble)(nil)
	_ history.CacheStore = (*Pebble)(nil)
)
