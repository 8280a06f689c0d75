package portfolio

import "testing"

func TestOrderValidate(t *testing.T) {
	valid := Order{
		ID:          "ord-1",
		PortfolioID: "pf-1",
		Symbol:      "ABC",
		Type:        TypeMarket,
		Side:        SideBuy,
		Quantity:    10,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Order)
	}{
		{"missing id", func(o *Order) { o.ID = "" }},
		{"missing portfolio", func(o *Order) { o.PortfolioID = "" }},
		{"missing symbol", func(o *Order) { o.Symbol = "" }},
		{"bad side", func(o *Order) { o.Side = "HOLD" }},
		{"zero quantity", func(o *Order) { o.Quantity = 0 }},
		{"negative quantity", func(o *Order) { o.Quantity = -1 }},
		{"limit without price", func(o *Order) { o.Type = TypeLimit; o.LimitPrice = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := valid
			tc.mutate(&o)
			if err := o.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewFill(t *testing.T) {
	o := Order{ID: "ord-1", PortfolioID: "pf-1", Symbol: "ABC", Side: SideBuy, Quantity: 10}
	f := NewFill(o, 42, 9.55)
	if f.Value != 95.5 {
		t.Fatalf("expected value 95.50, got %f", f.Value)
	}
	if f.ConID != 42 || f.Side != SideBuy || f.Price != 9.55 {
		t.Fatalf("unexpected fill: %+v", f)
	}
}

func TestPositionFor(t *testing.T) {
	p := Portfolio{Positions: []Position{
		{Symbol: "ABC"},
		{Symbol: "XYZ"},
	}}
	if i := p.PositionFor("XYZ"); i != 1 {
		t.Fatalf("expected index 1, got %d", i)
	}
	if i := p.PositionFor("NOPE"); i != -1 {
		t.Fatalf("expected -1, got %d", i)
	}
}
