// Package store defines the narrow persistence contracts the engine and
// API depend on, with a pebble-backed implementation and an in-memory
// fake for tests.
package store

import (
	"context"
	"errors"

	"github.com/damian-anslik/cpapi-app/portfolio"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// OrderStore holds the pending orders.
type OrderStore interface {
	ListPending(ctx context.Context) ([]portfolio.Order, error)
	PutOrder(ctx context.Context, o portfolio.Order) error
	DeleteOrder(ctx context.Context, id string) error
}

// PortfolioStore holds the portfolio documents. Put has full overwrite
// semantics.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, id string) (portfolio.Portfolio, error)
	PutPortfolio(ctx context.Context, p portfolio.Portfolio) error
}

// SymbolDirectory maps symbols to the brokerage's instrument identifiers.
// Symbols without an entry are simply absent from the result.
type SymbolDirectory interface {
	InstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error)
	PutContract(ctx context.Context, c Contract) error
}

// Contract is one symbol directory entry.
type Contract struct {
	Symbol string `json:"symbol"`
	ConID  int64  `json:"con_id"`
}

// Committer applies a fill's persistence step as one unit: the updated
// portfolio is written and the originating order leaves the pending set
// together, or neither does.
type Committer interface {
	CommitFill(ctx context.Context, p portfolio.Portfolio, orderID string) error
}
