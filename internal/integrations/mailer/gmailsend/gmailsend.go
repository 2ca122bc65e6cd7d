package gmailsend

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Sender sends mail through the Gmail API on behalf of a single account,
// authenticated with an OAuth2 refresh token.
type Sender struct {
	svc  *gmail.Service
	from string
}

func New(ctx context.Context, clientID, clientSecret, refreshToken, from string) (*Sender, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("gmail credentials are not configured")
	}
	if from == "" {
		return nil, errors.New("gmail from address is not configured")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now(), // force refresh on first use
	})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, errors.Wrap(err, "create gmail service")
	}
	return &Sender{svc: svc, from: from}, nil
}

func (s *Sender) Send(ctx context.Context, to, subject, htmlBody string) error {
	raw := buildMessage(s.from, to, subject, htmlBody)
	msg := &gmail.Message{Raw: base64.RawURLEncoding.EncodeToString([]byte(raw))}

	_, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return errors.Wrap(err, "send gmail message")
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return b.String()
}
