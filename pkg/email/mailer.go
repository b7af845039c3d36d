package email

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a transactional email.
type Message struct {
	To       string `json:"to" validate:"required,email"`
	Subject  string `json:"subject" validate:"required,max=200"`
	HTMLBody string `json:"html_body" validate:"required"`
	TextBody string `json:"text_body,omitempty"`
	Tag      string `json:"tag,omitempty" validate:"omitempty,max=1000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the message before it is handed to a provider.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	return nil
}

// LogSender writes messages to a logger instead of delivering them.
// Used in development and whenever Postmark is not configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not delivered: no provider configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
	)
	return nil
}
