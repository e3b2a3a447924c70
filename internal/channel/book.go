// Package channel defines Deribit subscription channel names and payloads.
//
// Conventions:
//   - Prices and amounts: float64, as sent by the exchange
//   - Timestamps: milliseconds since Unix epoch (exchange clock)
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrInvalidChannel = errors.New("invalid channel name")
	ErrInvalidDelta   = errors.New("invalid book delta")
	ErrInvalidBook    = errors.New("invalid book message")
)

// BookPrefix starts every order book channel name.
const BookPrefix = "book."

// Book update intervals.
const (
	IntervalRaw   = "raw"
	Interval100ms = "100ms"
	IntervalAgg2  = "agg2"
)

// Action is what a BookDelta does to its price level.
type Action string

const (
	ActionNew    Action = "new"
	ActionChange Action = "change"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNew, ActionChange, ActionDelete:
		return true
	}
	return false
}

// BookChannel returns the channel name book.{instrument}.{interval}.
func BookChannel(instrument, interval string) string {
	return BookPrefix + instrument + "." + interval
}

// IsBookChannel reports whether name is an order book channel.
func IsBookChannel(name string) bool {
	return strings.HasPrefix(name, BookPrefix)
}

// ParseBookChannel splits a book.{instrument}.{interval} channel name.
func ParseBookChannel(name string) (instrument, interval string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[0] != "book" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	return parts[1], parts[2], nil
}

// BookDelta is one price level change. On the wire it is a tuple:
// ["new", 100.5, 10].
type BookDelta struct {
	Action Action
	Price  float64
	Amount float64 // Zero for deletes
}

// UnmarshalJSON decodes the tuple form.
func (d *BookDelta) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDelta, err)
	}
	if len(tuple) != 3 {
		return fmt.Errorf("%w: want 3 elements, got %d", ErrInvalidDelta, len(tuple))
	}

	var action Action
	if err := json.Unmarshal(tuple[0], &action); err != nil {
		return fmt.Errorf("%w: action: %w", ErrInvalidDelta, err)
	}
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDelta, action)
	}

	var price, amount float64
	if err := json.Unmarshal(tuple[1], &price); err != nil {
		return fmt.Errorf("%w: price: %w", ErrInvalidDelta, err)
	}
	if err := json.Unmarshal(tuple[2], &amount); err != nil {
		return fmt.Errorf("%w: amount: %w", ErrInvalidDelta, err)
	}

	*d = BookDelta{Action: action, Price: price, Amount: amount}
	return nil
}

// MarshalJSON encodes the tuple form.
func (d BookDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.Action, d.Price, d.Amount})
}

// BookMessage is the payload of a book.{instrument}.{interval} notification.
// The first message after subscribing is a snapshot and has no PrevChangeID.
type BookMessage struct {
	Asks           []BookDelta `json:"asks"`
	Bids           []BookDelta `json:"bids"`
	ChangeID       int64       `json:"change_id"`
	InstrumentName string      `json:"instrument_name"`
	PrevChangeID   *int64      `json:"prev_change_id,omitempty"`
	Timestamp      uint64      `json:"timestamp"`
}

// IsSnapshot reports whether the message replaces the whole book.
func (m *BookMessage) IsSnapshot() bool {
	return m.PrevChangeID == nil
}

// ParseBookMessage decodes the data field of a book notification.
func ParseBookMessage(data []byte) (*BookMessage, error) {
	var msg BookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBook, err)
	}
	if msg.InstrumentName == "" {
		return nil, fmt.Errorf("%w: missing instrument_name", ErrInvalidBook)
	}
	return &msg, nil
}
