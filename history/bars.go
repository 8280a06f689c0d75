// Package history serves daily bar data for symbols, caching brokerage
// responses and filtering outlier bars before they are stored.
package history

import (
	"math"
	"time"
)

// Bar is one OHLCV bar as returned by the brokerage history endpoint.
type Bar struct {
	Open   float64 `json:"o"`
	Close  float64 `json:"c"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"`
}

// Snapshot is the cached history document for one symbol.
type Snapshot struct {
	Symbol      string    `json:"symbol"`
	LastUpdated time.Time `json:"last_updated"`
	Bars        []Bar     `json:"bars"`
}

const (
	movingAverageWindow    = 3
	movingAverageThreshold = 1.5
	// The moving-average series is offset by this many slots before it is
	// lined up against the bars, so the first bars never have a reference
	// average and are always dropped.
	movingAveragePrefix = 10
)

// FilterBars drops bars whose open price sits above the moving-average
// threshold. The average for bar i is taken over the window starting
// movingAveragePrefix bars earlier; bars without a reference average
// compare against NaN and are discarded.
func FilterBars(bars []Bar) []Bar {
	ma := openMovingAverage(bars)
	filtered := make([]Bar, 0, len(bars))
	for i, bar := range bars {
		ref := math.NaN()
		if i >= movingAveragePrefix && i-movingAveragePrefix < len(ma) {
			ref = ma[i-movingAveragePrefix]
		}
		if bar.Open < movingAverageThreshold*ref {
			filtered = append(filtered, bar)
		}
	}
	return filtered
}

// openMovingAverage returns the windowed average of open prices, one
// value per fully covered window (length len(bars)-window+1).
func openMovingAverage(bars []Bar) []float64 {
	if len(bars) < movingAverageWindow {
		return nil
	}
	out := make([]float64, 0, len(bars)-movingAverageWindow+1)
	var sum float64
	for i, bar := range bars {
		sum += bar.Open
		if i >= movingAverageWindow {
			sum -= bars[i-movingAverageWindow].Open
		}
		if i >= movingAverageWindow-1 {
			out = append(out, sum/movingAverageWindow)
		}
	}
	return out
}
