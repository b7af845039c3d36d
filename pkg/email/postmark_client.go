package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers messages through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	from   string
	reply  string
}

// PostmarkOption configures a PostmarkSender.
type PostmarkOption func(*postmark.Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) PostmarkOption {
	return func(c *postmark.Client) { c.BaseURL = url }
}

// NewPostmarkSender validates cfg and creates the sender.
func NewPostmarkSender(cfg Config, opts ...PostmarkOption) (*PostmarkSender, error) {
	if !cfg.PostmarkEnabled() {
		return nil, fmt.Errorf("%w: postmark server and account tokens are required", ErrInvalidConfig)
	}
	if err := validate.Var(cfg.SenderEmail, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: sender email: %w", ErrInvalidConfig, err)
	}
	if err := validate.Var(cfg.SupportEmail, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: support email: %w", ErrInvalidConfig, err)
	}

	client := postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	for _, opt := range opts {
		opt(client)
	}

	return &PostmarkSender{
		client: client,
		from:   cfg.SenderEmail,
		reply:  cfg.SupportEmail,
	}, nil
}

// Send delivers msg. Replies go to the support address.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.reply,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// NewSender returns a PostmarkSender when credentials are configured and a
// LogSender otherwise.
func NewSender(cfg Config, fallback *LogSender) (Sender, error) {
	if cfg.PostmarkEnabled() {
		return NewPostmarkSender(cfg)
	}
	if fallback == nil {
		fallback = NewLogSender(nil)
	}
	return fallback, nil
}
