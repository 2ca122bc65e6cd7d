package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
)

// FakeClient is an offline stand-in for the flight-search provider.
// Prices are deterministic per route+date so repeated runs see stable
// results; a small slice of routes reports no offers at all.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Search(ctx context.Context, q flights.Query) (flights.Result, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(q.Origin))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(q.Destination))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(q.DepartureDate.Format("2006-01-02")))
	v := h.Sum32()

	// Roughly 10% of routes come back empty.
	if v%10 == 0 {
		return flights.Result{NoResults: true}, nil
	}

	price := float64(80 + v%520)
	airline := "United"
	if len(q.Airlines) > 0 {
		airline = q.Airlines[0]
	}

	details, _ := json.Marshal(map[string]any{
		"price":   price,
		"flights": []map[string]string{{"airline": airline}},
	})

	return flights.Result{
		Offer: &flights.Offer{
			Price:    price,
			Currency: "USD",
			Airlines: []string{airline},
			Details:  details,
			Link:     fmt.Sprintf("https://flights.example/%s-%s", q.Origin, q.Destination),
		},
	}, nil
}
