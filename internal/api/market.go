package api

import "context"

// OrderBook from public/get_order_book. Levels are [price, amount] pairs,
// best first.
type OrderBook struct {
	InstrumentName string       `json:"instrument_name"`
	Timestamp      int64        `json:"timestamp"` // Milliseconds
	ChangeID       int64        `json:"change_id"`
	State          string       `json:"state"`
	Bids           [][2]float64 `json:"bids"`
	Asks           [][2]float64 `json:"asks"`
	BestBidPrice   *float64     `json:"best_bid_price"`
	BestAskPrice   *float64     `json:"best_ask_price"`
	MarkPrice      float64      `json:"mark_price"`
}

type orderBookParams struct {
	InstrumentName string `json:"instrument_name"`
	Depth          int    `json:"depth,omitempty"`
}

// GetOrderBook fetches the current book for an instrument. depth 0 uses the
// server default.
func (c *Client) GetOrderBook(ctx context.Context, instrument string, depth int) (*OrderBook, error) {
	var book OrderBook
	params := orderBookParams{InstrumentName: instrument, Depth: depth}
	if err := c.call(ctx, "public/get_order_book", params, &book); err != nil {
		return nil, err
	}
	return &book, nil
}
