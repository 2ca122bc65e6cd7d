package serpapihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/integrations/flights"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// Provider trip-type codes: 1 = round trip, 2 = one way.
const (
	tripTypeRoundTrip = "1"
	tripTypeOneWay    = "2"
)

const defaultCurrency = "USD"

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type searchResp struct {
	Error          string `json:"error"`
	SearchMetadata struct {
		GoogleFlightsURL string `json:"google_flights_url"`
		SerpapiURL       string `json:"serpapi_url"`
	} `json:"search_metadata"`
	BestFlights  []json.RawMessage `json:"best_flights"`
	OtherFlights []json.RawMessage `json:"other_flights"`
}

// offerPeek is the subset of an offer blob we need to rank and describe
// it; the full blob is kept verbatim as the details snapshot.
type offerPeek struct {
	Price   float64 `json:"price"`
	Link    string  `json:"link"`
	Flights []struct {
		Airline string `json:"airline"`
	} `json:"flights"`
}

func (c *Client) Search(ctx context.Context, q flights.Query) (flights.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return flights.Result{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/search"

	p := u.Query()
	p.Set("engine", "google_flights")
	p.Set("api_key", c.apiKey)
	p.Set("departure_id", q.Origin)
	p.Set("arrival_id", q.Destination)
	p.Set("outbound_date", q.DepartureDate.Format("2006-01-02"))
	p.Set("adults", "1")

	// Round trips require a return date on the wire; everything else is
	// sent as one way.
	if q.TripType == models.TripTypeRoundTrip && q.ReturnDate != nil {
		p.Set("type", tripTypeRoundTrip)
		p.Set("return_date", q.ReturnDate.Format("2006-01-02"))
	} else {
		p.Set("type", tripTypeOneWay)
	}

	if len(q.Airlines) > 0 {
		codes, invalid := airlineCodes(q.Airlines)
		if len(codes) > 0 {
			p.Set("include_airlines", strings.Join(codes, ","))
		}
		if len(invalid) > 0 {
			slog.Warn("skipping invalid airline preferences", "values", strings.Join(invalid, ","))
		}
	}

	// Stops 0 means "any": the constraint is omitted entirely so the
	// provider query is not over-constrained.
	if q.Stops >= 1 && q.Stops <= models.MaxStops {
		p.Set("stops", strconv.Itoa(q.Stops))
	}
	u.RawQuery = p.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return flights.Result{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return flights.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return flights.Result{}, errors.Wrap(err, "read body")
	}

	if resp.StatusCode/100 != 2 {
		// The provider puts a usable message in the error field even on
		// non-2xx answers; surface it when present.
		var r searchResp
		if json.Unmarshal(body, &r) == nil && r.Error != "" {
			return flights.Result{}, fmt.Errorf("serpapi http %d: %s", resp.StatusCode, r.Error)
		}
		return flights.Result{}, fmt.Errorf("serpapi http %d", resp.StatusCode)
	}

	var r searchResp
	if err := json.Unmarshal(body, &r); err != nil {
		return flights.Result{}, errors.Wrap(err, "decode")
	}
	if r.Error != "" {
		return flights.Result{}, fmt.Errorf("serpapi: %s", r.Error)
	}

	offer, ok := cheapestOffer(append(r.BestFlights, r.OtherFlights...))
	if !ok {
		return flights.Result{NoResults: true}, nil
	}

	if offer.Link == "" {
		if r.SearchMetadata.GoogleFlightsURL != "" {
			offer.Link = r.SearchMetadata.GoogleFlightsURL
		} else {
			offer.Link = r.SearchMetadata.SerpapiURL
		}
	}

	return flights.Result{Offer: offer}, nil
}

func cheapestOffer(blobs []json.RawMessage) (*flights.Offer, bool) {
	var best *flights.Offer
	for _, blob := range blobs {
		var peek offerPeek
		if json.Unmarshal(blob, &peek) != nil {
			continue
		}
		if peek.Price <= 0 {
			// Offers without a price cannot be ranked or tracked.
			continue
		}
		if best != nil && peek.Price >= best.Price {
			continue
		}

		var airlines []string
		seen := make(map[string]struct{}, len(peek.Flights))
		for _, seg := range peek.Flights {
			if seg.Airline == "" {
				continue
			}
			if _, dup := seen[seg.Airline]; dup {
				continue
			}
			seen[seg.Airline] = struct{}{}
			airlines = append(airlines, seg.Airline)
		}

		best = &flights.Offer{
			Price:    peek.Price,
			Currency: defaultCurrency,
			Airlines: airlines,
			Details:  blob,
			Link:     peek.Link,
		}
	}
	return best, best != nil
}
