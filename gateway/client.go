// Package gateway is a thin client for the brokerage's Client Portal
// API. The HTTP client is injectable so tests can point it at httptest.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/damian-anslik/cpapi-app/history"
)

// Market data snapshot field codes: 84 = bid price, 86 = ask price.
const (
	FieldBid = "84"
	FieldAsk = "86"
)

// Client calls the brokerage REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// NewDefaultHTTPClient returns an http.Client with a sane timeout.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// SnapshotRow is one instrument's best bid/ask. HasBid/HasAsk report
// whether the brokerage included the field at all; rows missing either
// are unusable for order resolution.
type SnapshotRow struct {
	ConID  int64
	Bid    float64
	Ask    float64
	HasBid bool
	HasAsk bool
}

// raw snapshot payload: conid plus numeric tick fields keyed by code,
// delivered as strings.
type snapshotPayload struct {
	ConIDEx json.Number `json:"conidEx"`
	ConID   json.Number `json:"conid"`
	Bid     string      `json:"84"`
	Ask     string      `json:"86"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Snapshot requests best bid/ask for the given conids.
func (c *Client) Snapshot(ctx context.Context, conids []int64) ([]SnapshotRow, error) {
	ids := make([]string, len(conids))
	for i, id := range conids {
		ids[i] = strconv.FormatInt(id, 10)
	}
	query := url.Values{
		"conids": {strings.Join(ids, ",")},
		"fields": {FieldBid + "," + FieldAsk},
	}
	var payload []snapshotPayload
	if err := c.do(ctx, http.MethodGet, "/v1/api/iserver/marketdata/snapshot", query, &payload); err != nil {
		return nil, err
	}

	rows := make([]SnapshotRow, 0, len(payload))
	for _, p := range payload {
		row := SnapshotRow{ConID: parseConID(p)}
		if p.Bid != "" {
			if v, err := strconv.ParseFloat(p.Bid, 64); err == nil {
				row.Bid = v
				row.HasBid = true
			}
		}
		if p.Ask != "" {
			if v, err := strconv.ParseFloat(p.Ask, 64); err == nil {
				row.Ask = v
				row.HasAsk = true
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseConID prefers conidEx, which may carry an exchange suffix.
func parseConID(p snapshotPayload) int64 {
	for _, n := range []json.Number{p.ConIDEx, p.ConID} {
		s := n.String()
		if s == "" {
			continue
		}
		if i := strings.IndexByte(s, '@'); i >= 0 {
			s = s[:i]
		}
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// ReleaseAllSubscriptions cancels every standing market data subscription.
func (c *Client) ReleaseAllSubscriptions(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/api/iserver/marketdata/unsubscribeall", nil, nil)
}

// HistoricalBars fetches bars for one instrument, outside regular
// trading hours included.
func (c *Client) HistoricalBars(ctx context.Context, conID int64, period, barSize string) ([]history.Bar, error) {
	query := url.Values{
		"conid":      {strconv.FormatInt(conID, 10)},
		"period":     {period},
		"bar":        {barSize},
		"outsideRth": {"true"},
	}
	var payload struct {
		Data []history.Bar `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/api/hmds/history", query, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// Tickle keeps the brokerage session alive.
func (c *Client) Tickle(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/api/tickle", nil, nil)
}

// AuthStatus reports whether the brokerage session is authenticated.
func (c *Client) AuthStatus(ctx context.Context) (bool, error) {
	var payload struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/api/iserver/auth/status", nil, &payload); err != nil {
		return false, err
	}
	return payload.Authenticated, nil
}

// Reauthenticate re-establishes an expired brokerage session.
func (c *Client) Reauthenticate(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/api/iserver/reauthenticate", nil, nil)
}

// Logout terminates the brokerage session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/api/logout", nil, nil)
}

// BrokerageAccounts hits the accounts endpoint; the Client Portal API
// requires this call once before any market data request.
func (c *Client) BrokerageAccounts(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/api/iserver/accounts", nil, nil)
}
