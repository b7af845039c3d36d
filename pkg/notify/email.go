package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/megagig/pharmacare/pkg/email"
	"github.com/megagig/pharmacare/pkg/email/templates"
)

type message struct {
	subject string
	body    func(Context) templ.Component
}

var messages = map[Kind]message{
	KindPaymentReceived:       {subject: "Payment received", body: paymentReceived},
	KindPaymentFailed:         {subject: "Payment failed", body: paymentFailed},
	KindSubscriptionActivated: {subject: "Subscription active", body: subscriptionActivated},
	KindSubscriptionCancelled: {subject: "Subscription cancelled", body: subscriptionCancelled},
	KindSubscriptionExpiring:  {subject: "Your subscription expires soon", body: subscriptionExpiring},
}

func paymentReceived(c Context) templ.Component {
	return templ.Join(
		templates.Paragraph("We received your payment of ", money(c.Amount, c.Currency), "."),
		templates.Paragraph("Your ", c.Tier, " subscription is active until ", date(c.EndDate), "."),
	)
}

func paymentFailed(c Context) templ.Component {
	reason := ""
	if c.FailureReason != "" {
		reason = ": " + c.FailureReason
	}
	next := templates.Paragraph("Please update your payment method to avoid interruption.")
	if c.Suspended {
		next = templates.Paragraph("Your subscription has been suspended after ", strconv.Itoa(c.FailedAttempts),
			" failed attempts. Update your payment method to restore access.")
	}
	return templ.Join(
		templates.Paragraph("We could not process your payment", reason, "."),
		next,
	)
}

func subscriptionActivated(c Context) templ.Component {
	return templates.Paragraph("Your ", c.Tier, " subscription is active until ", date(c.EndDate), ".")
}

func subscriptionCancelled(c Context) templ.Component {
	parts := []templ.Component{templates.Paragraph("Your subscription has been cancelled.")}
	if c.GracePeriodEnd != nil {
		parts = append(parts, templates.Paragraph("You keep access until ", date(*c.GracePeriodEnd), "."))
	}
	return templ.Join(parts...)
}

func subscriptionExpiring(c Context) templ.Component {
	return templates.Paragraph("Your ", c.Tier, " subscription expires on ", date(c.EndDate), ".")
}

func money(amount int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(amount)/100, strings.ToUpper(currency))
}

func date(t time.Time) string {
	return t.Format("January 2, 2006")
}

// EmailNotifier renders notifications as HTML email and hands them to an email.Sender.
type EmailNotifier struct {
	sender email.Sender
}

func NewEmailNotifier(sender email.Sender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

var _ Notifier = (*EmailNotifier)(nil)

func (n *EmailNotifier) PaymentReceived(ctx context.Context, to string, c Context) error {
	return n.send(ctx, KindPaymentReceived, to, c)
}

func (n *EmailNotifier) PaymentFailed(ctx context.Context, to string, c Context) error {
	return n.send(ctx, KindPaymentFailed, to, c)
}

func (n *EmailNotifier) SubscriptionActivatedOrRenewed(ctx context.Context, to string, c Context) error {
	return n.send(ctx, KindSubscriptionActivated, to, c)
}

func (n *EmailNotifier) SubscriptionCancelled(ctx context.Context, to string, c Context) error {
	return n.send(ctx, KindSubscriptionCancelled, to, c)
}

func (n *EmailNotifier) ExpiringSoon(ctx context.Context, to string, c Context) error {
	return n.send(ctx, KindSubscriptionExpiring, to, c)
}

func (n *EmailNotifier) send(ctx context.Context, kind Kind, to string, c Context) error {
	if to == "" {
		return ErrNoRecipient
	}
	m, ok := messages[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	body, err := templates.Render(ctx, m.body(c))
	if err != nil {
		return fmt.Errorf("render %s: %w", kind, err)
	}

	return n.sender.Send(ctx, email.Message{
		To:       to,
		Subject:  m.subject,
		HTMLBody: body,
		Tag:      string(kind),
	})
}
