package writer

import (
	"encoding/json"

	"github.com/rickgao/deribit-data/internal/channel"
)

// msToMicro converts exchange milliseconds to the microseconds stored in
// every table.
func msToMicro(ms int64) int64 {
	return ms * 1000
}

// levelJSON represents a price level in JSONB format.
type levelJSON struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// levelsToJSONB converts book deltas to JSONB bytes, dropping deletes.
func levelsToJSONB(deltas []channel.BookDelta) []byte {
	result := make([]levelJSON, 0, len(deltas))
	for _, d := range deltas {
		if d.Action == channel.ActionDelete {
			continue
		}
		result = append(result, levelJSON{Price: d.Price, Amount: d.Amount})
	}
	data, _ := json.Marshal(result)
	return data
}

// bestBid returns the highest live bid price, or 0 for an empty side.
func bestBid(bids []channel.BookDelta) float64 {
	var best float64
	for _, d := range bids {
		if d.Action != channel.ActionDelete && d.Price > best {
			best = d.Price
		}
	}
	return best
}

// bestAsk returns the lowest live ask price, or 0 for an empty side.
func bestAsk(asks []channel.BookDelta) float64 {
	var best float64
	for _, d := range asks {
		if d.Action == channel.ActionDelete {
			continue
		}
		if best == 0 || d.Price < best {
			best = d.Price
		}
	}
	return best
}
