package messages

import (
	"encoding/json"
	"time"
)

// PriceUpdated is emitted by the worker after a successful price check has
// been persisted. The alerts consumer decides on notifications from the
// baseline fields carried here; it never re-derives them from the already
// updated record.
type PriceUpdated struct {
	SearchRequestID uint64    `json:"search_request_id"`
	UserID          uint64    `json:"user_id"`
	CheckedAt       time.Time `json:"checked_at"`

	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"`

	LatestPrice float64  `json:"latest_price"`
	Currency    string   `json:"currency"`
	Airlines    []string `json:"airlines,omitempty"`
	FlightLink  *string  `json:"flight_link,omitempty"`

	// Tracking state as it was before this check was applied.
	OldMinimumPrice   *float64 `json:"old_minimum_price,omitempty"`
	LastNotifiedPrice *float64 `json:"last_notified_price,omitempty"`

	Details json.RawMessage `json:"details,omitempty"`
}
