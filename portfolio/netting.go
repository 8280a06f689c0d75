package portfolio

// FromFill initializes a fresh position from a fill. Quantity and Value
// start positive regardless of side; the sign convention only appears
// once an opposite-side fill nets against the entry.
func FromFill(f Fill) Position {
	return Position{
		Symbol:   f.Symbol,
		ConID:    f.ConID,
		Side:     f.Side,
		Quantity: f.Quantity,
		Value:    f.Value,
	}
}

// Net combines a fill with an existing position of the same symbol.
// Matching sides accumulate quantity and value; opposite sides reduce
// them, flipping through zero when the fill is larger than the position.
// Side is recomputed from the sign of the resulting quantity, so a
// flipped position keeps its negative quantity with the opposite side.
func Net(existing Position, f Fill) Position {
	p := existing
	if existing.Side == f.Side {
		p.Quantity += f.Quantity
		p.Value += f.Value
	} else {
		p.Quantity -= f.Quantity
		p.Value -= f.Value
	}
	switch {
	case p.Quantity > 0:
		p.Side = SideBuy
	case p.Quantity < 0:
		p.Side = SideSell
	default:
		p.Side = SideNone
	}
	return p
}

// ApplyFill returns a copy of the portfolio with the fill netted into its
// positions and the originating order removed from the pending list. An
// existing entry with a live side is netted against; a flat (SideNone)
// entry for the symbol is reinitialized in place, keeping positions
// unique by symbol; otherwise a new entry is appended.
func (p Portfolio) ApplyFill(f Fill, orderID string) Portfolio {
	out := Portfolio{ID: p.ID}
	out.Positions = make([]Position, len(p.Positions))
	copy(out.Positions, p.Positions)

	if i := out.positionWithSide(f.Symbol); i >= 0 {
		out.Positions[i] = Net(out.Positions[i], f)
	} else if i := out.PositionFor(f.Symbol); i >= 0 {
		out.Positions[i] = FromFill(f)
	} else {
		out.Positions = append(out.Positions, FromFill(f))
	}

	out.Orders = make([]string, 0, len(p.Orders))
	for _, id := range p.Orders {
		if id != orderID {
			out.Orders = append(out.Orders, id)
		}
	}
	return out
}

// positionWithSide returns the index of the entry for symbol that still
// holds exposure, or -1.
func (p Portfolio) positionWithSide(symbol string) int {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol && p.Positions[i].Side != SideNone {
			return i
		}
	}
	return -1
}
