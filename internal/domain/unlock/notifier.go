package unlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/scoutlink/unlock-api/internal/domain/identity"
	"github.com/scoutlink/unlock-api/internal/domain/wallet"
	"github.com/scoutlink/unlock-api/internal/pkg/email"
	"github.com/scoutlink/unlock-api/internal/pkg/metrics"
)

// Notice carries what both unlock emails need.
type Notice struct {
	OperatorID   string
	Operator     identity.Identity
	Athlete      identity.Identity
	CreditsSpent decimal.Decimal
	Balance      decimal.Decimal
	ExpiresAt    *time.Time
}

// Notifier tells the athlete and the operator about a completed unlock.
type Notifier struct {
	sender      email.Sender
	renderer    *email.Renderer
	frontendURL string
}

func NewNotifier(sender email.Sender, renderer *email.Renderer, frontendURL string) *Notifier {
	return &Notifier{sender: sender, renderer: renderer, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2 Jan 2006 15:04 MST")
}

func nameOr(id identity.Identity, fallback string) string {
	if name := id.DisplayName(); name != "" {
		return name
	}
	return fallback
}

// Messages builds the athlete and operator emails.
func (n *Notifier) Messages(notice Notice) (athlete, operator email.Message, err error) {
	athleteName := nameOr(notice.Athlete, "there")
	operatorName := nameOr(notice.Operator, "A club")
	expires := formatExpiry(notice.ExpiresAt)

	athleteHTML, err := n.renderer.Render(email.TemplateAthleteUnlocked, map[string]string{
		"AthleteName":  athleteName,
		"OperatorName": operatorName,
		"ExpiresAt":    expires,
		"ProfileURL":   n.frontendURL + "/profile",
	})
	if err != nil {
		return athlete, operator, err
	}

	operatorHTML, err := n.renderer.Render(email.TemplateOperatorUnlock, map[string]string{
		"AthleteName":  nameOr(notice.Athlete, "the athlete"),
		"CreditsSpent": wallet.Format(notice.CreditsSpent),
		"Balance":      wallet.Format(notice.Balance),
		"ExpiresAt":    expires,
		"AthleteURL":   n.frontendURL + "/athletes/" + notice.Athlete.ID,
	})
	if err != nil {
		return athlete, operator, err
	}

	athlete = email.Message{
		To:      notice.Athlete.Email,
		ToName:  notice.Athlete.DisplayName(),
		Subject: "Your contact details were unlocked",
		Text:    fmt.Sprintf("Hi %s, %s unlocked your contact details and may reach out to you.", athleteName, operatorName),
		HTML:    athleteHTML,
	}
	operator = email.Message{
		To:      notice.Operator.Email,
		ToName:  notice.Operator.DisplayName(),
		Subject: "Contact unlocked",
		Text: fmt.Sprintf("You unlocked %s. Credits spent: %s. Remaining balance: %s.",
			nameOr(notice.Athlete, "the athlete"), wallet.Format(notice.CreditsSpent), wallet.Format(notice.Balance)),
		HTML: operatorHTML,
	}
	return athlete, operator, nil
}

// Send dispatches both emails concurrently. A failed send does not cancel
// the other one; the first error is returned for logging.
func (n *Notifier) Send(ctx context.Context, notice Notice) error {
	athlete, operator, err := n.Messages(notice)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return n.deliver(ctx, "athlete", athlete) })
	g.Go(func() error { return n.deliver(ctx, "operator", operator) })
	return g.Wait()
}

func (n *Notifier) deliver(ctx context.Context, recipient string, msg email.Message) error {
	if msg.To == "" {
		metrics.NotificationsTotal.WithLabelValues(recipient, "skipped").Inc()
		log.Debug().Str("recipient", recipient).Msg("no email address, notification skipped")
		return nil
	}

	d, err := n.sender.Send(ctx, msg)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(recipient, "failed").Inc()
		log.Warn().Err(err).Str("recipient", recipient).Str("to", msg.To).Msg("notification send failed")
		return fmt.Errorf("%s notification: %w", recipient, err)
	}

	metrics.NotificationsTotal.WithLabelValues(recipient, "sent").Inc()
	log.Info().Str("recipient", recipient).Str("to", msg.To).Str("message_id", d.MessageID).Msg("notification sent")
	return nil
}
