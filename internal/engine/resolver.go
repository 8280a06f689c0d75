package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/store"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

// InstrumentMap is the bidirectional symbol/conid mapping for one cycle.
// Both directions are built together so a reverse lookup can never
// silently disagree with the forward one.
type InstrumentMap struct {
	bySymbol map[string]int64
	byConID  map[int64]string
}

// ConID returns the instrument id for symbol.
func (m InstrumentMap) ConID(symbol string) (int64, bool) {
	id, ok := m.bySymbol[symbol]
	return id, ok
}

// Symbol returns the symbol behind an instrument id.
func (m InstrumentMap) Symbol(conID int64) (string, bool) {
	sym, ok := m.byConID[conID]
	return sym, ok
}

// ConIDs returns the distinct instrument id set.
func (m InstrumentMap) ConIDs() []int64 {
	out := make([]int64, 0, len(m.byConID))
	for id := range m.byConID {
		out = append(out, id)
	}
	return out
}

// Len reports the number of resolved symbols.
func (m InstrumentMap) Len() int { return len(m.bySymbol) }

// resolveInstruments maps the pending orders' distinct symbols to
// instrument ids. Symbols without a directory entry are absent from the
// result; their orders are later skipped for lack of market data. An
// empty order set short-circuits without touching the directory.
func resolveInstruments(ctx context.Context, dir store.SymbolDirectory, orders []portfolio.Order, log *logger.Logger) (InstrumentMap, error) {
	m := InstrumentMap{
		bySymbol: make(map[string]int64),
		byConID:  make(map[int64]string),
	}
	if len(orders) == 0 {
		return m, nil
	}

	seen := make(map[string]struct{}, len(orders))
	symbols := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		symbols = append(symbols, o.Symbol)
	}

	ids, err := dir.InstrumentIDs(ctx, symbols)
	if err != nil {
		return m, err
	}
	for sym, id := range ids {
		m.bySymbol[sym] = id
		m.byConID[id] = sym
	}
	log.Debug("resolved instruments",
		zap.Int("symbols", len(symbols)),
		zap.Int("resolved", m.Len()))
	return m, nil
}
