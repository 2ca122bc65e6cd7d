package flights

import (
	"context"
	"encoding/json"
	"time"
)

// Query describes one outbound provider search. Stops == 0 means "any"
// and must not be forwarded as a constraint.
type Query struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	TripType      string
	Airlines      []string
	Stops         int
}

type Offer struct {
	Price    float64
	Currency string
	Airlines []string
	Details  json.RawMessage
	Link     string
}

// Result distinguishes "cheapest offer found" from "provider answered but
// had nothing". Callers treat the latter as a per-request failure without
// it being a transport error.
type Result struct {
	Offer     *Offer
	NoResults bool
}

type Client interface {
	Search(ctx context.Context, q Query) (Result, error)
}
