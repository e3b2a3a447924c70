package api

import (
	"context"
	"testing"
)

func TestClient_GetOrderBook(t *testing.T) {
	result := `{
		"timestamp": 1550757626706,
		"state": "open",
		"instrument_name": "BTC-PERPETUAL",
		"change_id": 474988,
		"bids": [[3955.75, 30.0], [3940.75, 102020.0]],
		"asks": [[3956.25, 10.0]],
		"best_bid_price": 3955.75,
		"best_ask_price": 3956.25,
		"mark_price": 3955.86
	}`
	caller := &fakeCaller{replies: []fakeReply{{result: result}}}
	c := NewClient(caller)

	book, err := c.GetOrderBook(context.Background(), "BTC-PERPETUAL", 5)
	if err != nil {
		t.Fatalf("GetOrderBook failed: %v", err)
	}

	if book.ChangeID != 474988 {
		t.Errorf("ChangeID = %d, want 474988", book.ChangeID)
	}
	if len(book.Bids) != 2 || book.Bids[1] != [2]float64{3940.75, 102020} {
		t.Errorf("Bids = %v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0][0] != 3956.25 {
		t.Errorf("Asks = %v", book.Asks)
	}
	if book.BestBidPrice == nil || *book.BestBidPrice != 3955.75 {
		t.Errorf("BestBidPrice = %v, want 3955.75", book.BestBidPrice)
	}

	call := caller.lastCall(t)
	if call.method != "public/get_order_book" {
		t.Errorf("method = %s, want public/get_order_book", call.method)
	}
	if want := `{"instrument_name":"BTC-PERPETUAL","depth":5}`; string(call.params) != want {
		t.Errorf("params = %s, want %s", call.params, want)
	}
}

func TestClient_GetOrderBook_DefaultDepth(t *testing.T) {
	caller := &fakeCaller{replies: []fakeReply{{result: `{"instrument_name":"ETH-PERPETUAL","bids":[],"asks":[]}`}}}
	c := NewClient(caller)

	book, err := c.GetOrderBook(context.Background(), "ETH-PERPETUAL", 0)
	if err != nil {
		t.Fatalf("GetOrderBook failed: %v", err)
	}
	if book.BestBidPrice != nil {
		t.Errorf("BestBidPrice = %v, want nil", *book.BestBidPrice)
	}

	if want := `{"instrument_name":"ETH-PERPETUAL"}`; string(caller.lastCall(t).params) != want {
		t.Errorf("params = %s, want %s", caller.lastCall(t).params, want)
	}
}
