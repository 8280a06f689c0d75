package api

// SnapshotPrice is one row of the snapshot passthrough response.
type SnapshotPrice struct {
	ConID    int64   `json:"conid"`
	BidPrice float64 `json:"bid_price"`
	AskPrice float64 `json:"ask_price"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
