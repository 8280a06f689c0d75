package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-anslik/cpapi-app/gateway"
	"github.com/damian-anslik/cpapi-app/history"
	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/store"
	"github.com/damian-anslik/cpapi-app/portfolio"
)

type scriptedQuotes struct {
	rows []gateway.SnapshotRow
	err  error
}

func (s *scriptedQuotes) Snapshot(ctx context.Context, conids []int64) ([]gateway.SnapshotRow, error) {
	return s.rows, s.err
}

type scriptedBars struct {
	bars []history.Bar
	err  error
}

func (s *scriptedBars) HistoricalBars(ctx context.Context, conID int64, period, barSize string) ([]history.Bar, error) {
	return s.bars, s.err
}

func newTestServer(t *testing.T, mem *store.Memory, quotes *scriptedQuotes, bars *scriptedBars) *Server {
	t.Helper()
	hist := &history.Service{
		Cache:     mem,
		Directory: mem,
		Source:    bars,
		Logger:    logger.NewNop(),
	}
	return NewServer(hist, mem, quotes, nil, logger.NewNop())
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, store.NewMemory(), &scriptedQuotes{}, &scriptedBars{})
	rec := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPortfolio(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.PutPortfolio(context.Background(), portfolio.Portfolio{
		ID:        "pf-1",
		Positions: []portfolio.Position{{Symbol: "ABC", Side: portfolio.SideBuy, Quantity: 10, Value: 95.5}},
	}))
	s := newTestServer(t, mem, &scriptedQuotes{}, &scriptedBars{})

	rec := doRequest(s, http.MethodGet, "/portfolios/pf-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var p portfolio.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "pf-1", p.ID)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, 10.0, p.Positions[0].Quantity)

	rec = doRequest(s, http.MethodGet, "/portfolios/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotPassthrough(t *testing.T) {
	quotes := &scriptedQuotes{rows: []gateway.SnapshotRow{
		{ConID: 42, Bid: 9.50, Ask: 9.55, HasBid: true, HasAsk: true},
		{ConID: 7, Bid: 1.00, HasBid: true}, // partial row dropped
	}}
	s := newTestServer(t, store.NewMemory(), quotes, &scriptedBars{})

	rec := doRequest(s, http.MethodGet, "/snapshot?conids=42,7")
	require.Equal(t, http.StatusOK, rec.Code)
	var prices []SnapshotPrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prices))
	require.Len(t, prices, 1)
	assert.Equal(t, SnapshotPrice{ConID: 42, BidPrice: 9.50, AskPrice: 9.55}, prices[0])
}

func TestSnapshotGatewayError(t *testing.T) {
	quotes := &scriptedQuotes{err: errors.New("gateway down")}
	s := newTestServer(t, store.NewMemory(), quotes, &scriptedBars{})

	rec := doRequest(s, http.MethodGet, "/snapshot?conids=42")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSnapshotBadRequest(t *testing.T) {
	s := newTestServer(t, store.NewMemory(), &scriptedQuotes{}, &scriptedBars{})

	rec := doRequest(s, http.MethodGet, "/snapshot")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/snapshot?conids=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryUnknownSymbol(t *testing.T) {
	s := newTestServer(t, store.NewMemory(), &scriptedQuotes{}, &scriptedBars{})

	rec := doRequest(s, http.MethodGet, "/hmds?symbol=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryServesCachedSnapshot(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.PutHistory(context.Background(), history.Snapshot{
		Symbol:      "ABC",
		LastUpdated: time.Now(),
		Bars:        []history.Bar{{Open: 1.5, Time: 1}},
	}))
	s := newTestServer(t, mem, &scriptedQuotes{}, &scriptedBars{})

	// Symbol is uppercased before lookup.
	rec := doRequest(s, http.MethodGet, "/hmds?symbol=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap history.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "ABC", snap.Symbol)
	require.Len(t, snap.Bars, 1)
}

func TestHistoryMissingSymbolParam(t *testing.T) {
	s := newTestServer(t, store.NewMemory(), &scriptedQuotes{}, &scriptedBars{})
	rec := doRequest(s, http.MethodGet, "/hmds")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
