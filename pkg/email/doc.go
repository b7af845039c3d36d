// Package email delivers the billing engine's transactional messages.
//
// PostmarkSender sends through github.com/mrz1836/postmark; LogSender only
// logs and is used when no Postmark credentials are configured. Messages are
// validated with go-playground/validator before any provider is called.
//
// Subpackage templates renders templ components into HTMLBody:
//
//	body, err := templates.Render(ctx, templates.Paragraph("Payment received."))
//
//	sender, err := email.NewSender(cfg, email.NewLogSender(log))
//	if err != nil {
//		return err
//	}
//	err = sender.Send(ctx, email.Message{
//		To:       "owner@pharmacy.example",
//		Subject:  "Payment received",
//		HTMLBody: body,
//		Tag:      "payment-received",
//	})
package email
