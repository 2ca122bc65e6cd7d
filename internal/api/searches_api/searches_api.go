package searches_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/SoloFlyer/FareWatch/internal/services/searches"
	"github.com/go-chi/chi/v5"
)

const dateFormat = "2006-01-02"

type SearchesAPI struct {
	svc *searches.Service
}

func New(svc *searches.Service) *SearchesAPI {
	return &SearchesAPI{svc: svc}
}

func (a *SearchesAPI) Routes(r chi.Router) {
	r.Post("/users", a.createUser)
	r.Get("/users/{userID}", a.getUser)

	r.Route("/users/{userID}/searches", func(r chi.Router) {
		r.Post("/", a.createSearch)
		r.Get("/", a.listSearches)
		r.Get("/{searchID}", a.getSearch)
		r.Put("/{searchID}", a.updateSearch)
		r.Delete("/{searchID}", a.deleteSearch)
		r.Get("/{searchID}/price", a.getPrice)
		r.Post("/{searchID}/refresh", a.refreshSearch)
	})
}

type userResponse struct {
	ID        uint64    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type searchRequestBody struct {
	Origin        string   `json:"origin"`
	Destination   string   `json:"destination"`
	DepartureDate string   `json:"departure_date"`
	ReturnDate    *string  `json:"return_date,omitempty"`
	TripType      string   `json:"trip_type"`
	Airlines      []string `json:"airlines,omitempty"`
	Stops         int      `json:"stops"`
}

type searchResponse struct {
	ID            uint64    `json:"id"`
	UserID        uint64    `json:"user_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureDate string    `json:"departure_date"`
	ReturnDate    *string   `json:"return_date,omitempty"`
	TripType      string    `json:"trip_type"`
	Airlines      []string  `json:"airlines"`
	Stops         int       `json:"stops"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type priceResponse struct {
	SearchRequestID   uint64          `json:"search_request_id"`
	MinimumPrice      *float64        `json:"minimum_price"`
	LatestPrice       *float64        `json:"latest_price"`
	LastNotifiedPrice *float64        `json:"last_notified_price"`
	LastChecked       *time.Time      `json:"last_checked"`
	Currency          string          `json:"currency"`
	Airlines          []string        `json:"airlines"`
	FlightDetails     json.RawMessage `json:"flight_details,omitempty"`
	FlightLink        *string         `json:"flight_link,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (a *SearchesAPI) createUser(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	u, err := a.svc.CreateUser(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (a *SearchesAPI) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	u, err := a.svc.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (a *SearchesAPI) createSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	in, ok := decodeSearchBody(w, r, userID)
	if !ok {
		return
	}
	out, err := a.svc.CreateSearchRequest(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSearchResponse(out))
}

func (a *SearchesAPI) listSearches(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	out, err := a.svc.ListSearchRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]searchResponse, 0, len(out))
	for _, sr := range out {
		resp = append(resp, toSearchResponse(sr))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *SearchesAPI) getSearch(w http.ResponseWriter, r *http.Request) {
	userID, searchID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	out, err := a.svc.GetSearchRequest(r.Context(), searchID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(out))
}

func (a *SearchesAPI) updateSearch(w http.ResponseWriter, r *http.Request) {
	userID, searchID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	in, ok := decodeSearchBody(w, r, userID)
	if !ok {
		return
	}
	out, err := a.svc.UpdateSearchRequest(r.Context(), searchID, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(out))
}

func (a *SearchesAPI) deleteSearch(w http.ResponseWriter, r *http.Request) {
	userID, searchID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteSearchRequest(r.Context(), searchID, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *SearchesAPI) getPrice(w http.ResponseWriter, r *http.Request) {
	userID, searchID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.GetPrice(r.Context(), searchID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "price record not found")
		return
	}
	writeJSON(w, http.StatusOK, toPriceResponse(rec))
}

func (a *SearchesAPI) refreshSearch(w http.ResponseWriter, r *http.Request) {
	userID, searchID, ok := pathIDs(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.RefreshNow(r.Context(), searchID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceResponse(rec))
}

func decodeSearchBody(w http.ResponseWriter, r *http.Request, userID uint64) (models.SearchRequestCreateInput, bool) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return models.SearchRequestCreateInput{}, false
	}

	in := models.SearchRequestCreateInput{
		UserID:      userID,
		Origin:      body.Origin,
		Destination: body.Destination,
		TripType:    body.TripType,
		Airlines:    body.Airlines,
		Stops:       body.Stops,
	}

	dep, err := time.Parse(dateFormat, body.DepartureDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "departure_date must be YYYY-MM-DD")
		return models.SearchRequestCreateInput{}, false
	}
	in.DepartureDate = dep

	if body.ReturnDate != nil {
		ret, err := time.Parse(dateFormat, *body.ReturnDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "return_date must be YYYY-MM-DD")
			return models.SearchRequestCreateInput{}, false
		}
		in.ReturnDate = &ret
	}
	return in, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func pathIDs(w http.ResponseWriter, r *http.Request) (userID, searchID uint64, ok bool) {
	userID, ok = pathID(w, r, "userID")
	if !ok {
		return 0, 0, false
	}
	searchID, ok = pathID(w, r, "searchID")
	if !ok {
		return 0, 0, false
	}
	return userID, searchID, true
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toSearchResponse(sr *models.SearchRequest) searchResponse {
	resp := searchResponse{
		ID:            sr.ID,
		UserID:        sr.UserID,
		Origin:        sr.Origin,
		Destination:   sr.Destination,
		DepartureDate: sr.DepartureDate.Format(dateFormat),
		TripType:      sr.TripType,
		Airlines:      sr.Airlines,
		Stops:         sr.Stops,
		CreatedAt:     sr.CreatedAt,
		UpdatedAt:     sr.UpdatedAt,
	}
	if resp.Airlines == nil {
		resp.Airlines = []string{}
	}
	if sr.ReturnDate != nil {
		s := sr.ReturnDate.Format(dateFormat)
		resp.ReturnDate = &s
	}
	return resp
}

func toPriceResponse(rec *models.PriceRecord) priceResponse {
	resp := priceResponse{
		SearchRequestID:   rec.SearchRequestID,
		MinimumPrice:      rec.MinimumPrice,
		LatestPrice:       rec.LatestPrice,
		LastNotifiedPrice: rec.LastNotifiedPrice,
		LastChecked:       rec.LastChecked,
		Currency:          rec.Currency,
		Airlines:          rec.Airlines,
		FlightLink:        rec.FlightLink,
		UpdatedAt:         rec.UpdatedAt,
	}
	if resp.Airlines == nil {
		resp.Airlines = []string{}
	}
	if rec.FlightDetails != nil {
		resp.FlightDetails = json.RawMessage(*rec.FlightDetails)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		writeError(w, http.StatusNotFound, msg)
	case strings.Contains(msg, "already registered"):
		writeError(w, http.StatusConflict, msg)
	case strings.Contains(msg, "not available"):
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		writeError(w, http.StatusBadRequest, msg)
	}
}
