package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SoloFlyer/FareWatch/internal/broker/messages"
	"github.com/SoloFlyer/FareWatch/internal/integrations/mailer"
	"github.com/SoloFlyer/FareWatch/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	MarkPriceNotified(ctx context.Context, searchRequestID uint64, price float64) error
}

// Service decides, per price update, whether the user should hear about
// it, and sends the email when they should.
type Service struct {
	repo   Repository
	sender mailer.Sender
	dryRun bool
}

func New(repo Repository, sender mailer.Sender, dryRun bool) *Service {
	return &Service{repo: repo, sender: sender, dryRun: dryRun}
}

// HandleMessage is the kafka consumer handler for price-updated events.
func (s *Service) HandleMessage(ctx context.Context) func(key, value []byte) error {
	return func(_, value []byte) error {
		var msg messages.PriceUpdated
		if err := json.Unmarshal(value, &msg); err != nil {
			// A malformed message will never parse on retry either.
			slog.Error("drop malformed price updated message", "error", err.Error())
			return nil
		}
		return s.Handle(ctx, msg)
	}
}

// Handle applies the notification policy to one update. The baseline is
// the price the user last heard about, or the pre-update minimum if they
// never heard anything. Only a strictly lower latest price alerts.
func (s *Service) Handle(ctx context.Context, msg messages.PriceUpdated) error {
	if msg.SearchRequestID == 0 {
		return errors.New("search_request_id is required")
	}

	baseline := msg.LastNotifiedPrice
	if baseline == nil {
		baseline = msg.OldMinimumPrice
	}
	if baseline == nil || msg.LatestPrice >= *baseline {
		return nil
	}

	user, err := s.repo.GetUserByID(ctx, msg.UserID)
	if err != nil {
		return errors.Wrap(err, "get user")
	}
	if user == nil {
		slog.Warn("price drop for unknown user, skipping",
			"search_request_id", msg.SearchRequestID, "user_id", msg.UserID)
		return nil
	}

	subject, body := composeEmail(msg, *baseline)

	if s.dryRun {
		slog.Info("dry run: would send price drop alert",
			"to", user.Email, "subject", subject,
			"baseline", *baseline, "latest", msg.LatestPrice)
		return nil
	}

	if err := s.sender.Send(ctx, user.Email, subject, body); err != nil {
		return errors.Wrap(err, "send alert email")
	}

	// Mark only after the email actually went out, so a failed send is
	// retried against the same baseline.
	if err := s.repo.MarkPriceNotified(ctx, msg.SearchRequestID, msg.LatestPrice); err != nil {
		return errors.Wrap(err, "mark price notified")
	}

	slog.Info("sent price drop alert",
		"search_request_id", msg.SearchRequestID, "to", user.Email,
		"baseline", *baseline, "latest", msg.LatestPrice)
	return nil
}

func composeEmail(msg messages.PriceUpdated, baseline float64) (subject, body string) {
	route := fmt.Sprintf("%s -> %s", msg.Origin, msg.Destination)
	subject = fmt.Sprintf("Price drop: %s now %.2f %s", route, msg.LatestPrice, msg.Currency)

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Good news, the fare dropped!</h2>")
	fmt.Fprintf(&b, "<p><b>%s</b>, departing %s</p>", route, msg.DepartureDate)
	fmt.Fprintf(&b, "<p>New price: <b>%.2f %s</b> (was %.2f %s)</p>",
		msg.LatestPrice, msg.Currency, baseline, msg.Currency)
	if len(msg.Airlines) > 0 {
		fmt.Fprintf(&b, "<p>Airlines: %s</p>", strings.Join(msg.Airlines, ", "))
	}
	if msg.FlightLink != nil && *msg.FlightLink != "" {
		fmt.Fprintf(&b, `<p><a href="%s">View this flight</a></p>`, *msg.FlightLink)
	}
	fmt.Fprintf(&b, "<p>Checked at %s.</p>", msg.CheckedAt.Format("2006-01-02 15:04 UTC"))
	return subject, b.String()
}
