package models

import "time"

// Trip types (stored as-is in search_requests.trip_type).
const (
	TripTypeOneWay    = "one_way"
	TripTypeRoundTrip = "round_trip"
)

// Stops preference: 0 means "any", 1..3 are passed to the provider verbatim.
const MaxStops = 3

type User struct {
	ID           uint64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type SearchRequest struct {
	ID            uint64
	UserID        uint64
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	TripType      string
	Airlines      []string
	Stops         int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceRecord is the best-known and most-recent price data for one
// search request. Mutated only by the refresher (and MarkNotified).
type PriceRecord struct {
	SearchRequestID   uint64
	MinimumPrice      *float64
	LastChecked       *time.Time
	LastNotifiedPrice *float64
	LatestPrice       *float64
	Currency          string
	Airlines          []string
	FlightDetails     *string
	FlightLink        *string
	UpdatedAt         time.Time
}

type SearchRequestCreateInput struct {
	UserID        uint64
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	TripType      string
	Airlines      []string
	Stops         int
}

type UserCreateInput struct {
	Email        string
	PasswordHash string
}
