// Package portfolio holds the order, position and portfolio entities and
// the netting rule that folds executed fills into positions.
package portfolio

import (
	"errors"
	"fmt"
)

// Side of an order, fill or position. A position with SideNone is fully
// netted out and holds no exposure.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideNone Side = ""
)

// OrderType uses the brokerage's short codes.
type OrderType string

const (
	TypeMarket OrderType = "MKT"
	TypeLimit  OrderType = "LMT"
)

// Order is a pending instruction to trade. Orders are created externally,
// read each cycle and deleted exactly when they fill; they are never
// mutated in place.
type Order struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	Symbol      string    `json:"symbol"`
	Type        OrderType `json:"order_type"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	LimitPrice  float64   `json:"limit_price,omitempty"` // meaningful only for LMT
}

// Validate checks the order invariants.
func (o Order) Validate() error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if o.PortfolioID == "" {
		return errors.New("portfolio id is required")
	}
	if o.Symbol == "" {
		return errors.New("symbol is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0, got %f", o.Quantity)
	}
	if o.Type == TypeLimit && o.LimitPrice <= 0 {
		return fmt.Errorf("limit order requires limit price > 0, got %f", o.LimitPrice)
	}
	return nil
}

// Fill is the result of executing an order at a determined price.
type Fill struct {
	Symbol   string  `json:"symbol"`
	ConID    int64   `json:"conid"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"` // Quantity * Price
}

// NewFill builds the fill record for an order executing at price.
func NewFill(o Order, conID int64, price float64) Fill {
	return Fill{
		Symbol:   o.Symbol,
		ConID:    conID,
		Side:     o.Side,
		Quantity: o.Quantity,
		Price:    price,
		Value:    o.Quantity * price,
	}
}

// Position is a portfolio's net exposure to one symbol. Side is derived
// from the sign of Quantity after every netting step; it is SideNone when
// the position has been netted flat. Value is an additive running total,
// not a recomputed cost basis, so a flat position can carry a non-zero
// Value reflecting realized profit or loss.
type Position struct {
	Symbol   string  `json:"symbol"`
	ConID    int64   `json:"conid"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Value    float64 `json:"value"`
}

// Portfolio is the aggregate root: one per account. Orders lists the IDs
// of the account's pending orders; Positions is unique by symbol.
type Portfolio struct {
	ID        string     `json:"id"`
	Orders    []string   `json:"orders"`
	Positions []Position `json:"positions"`
}

// PositionFor returns the index of the entry for symbol, or -1.
func (p Portfolio) PositionFor(symbol string) int {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return i
		}
	}
	return -1
}
