package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/megagig/pharmacare/pkg/logger"
)

// Classifier maps a domain error to an HTTPError and a client-safe message.
// ok=false passes the error to the next classifier.
type Classifier func(err error) (httpErr HTTPError, message string, ok bool)

// NewErrorHandler writes errors as {"error":{"code","message"}}. Classifiers
// run in order; an unclassified HTTPError keeps its code and anything else
// is a 500 without details. 4xx are logged at warn, 5xx at error.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		httpErr, message := classify(err, classifiers)

		level := slog.LevelError
		if httpErr.Code < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(ctx, level, "request error",
			logger.Error(err),
			slog.Int("status_code", httpErr.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		resp := &jsonResponse{
			status: httpErr.Code,
			body:   Envelope{Error: &ErrorDetail{Code: httpErr.Key, Message: message}},
		}
		_ = resp.Render(ctx.ResponseWriter(), r)
	}
}

func classify(err error, classifiers []Classifier) (HTTPError, string) {
	for _, c := range classifiers {
		if httpErr, msg, ok := c(err); ok {
			return httpErr, msg
		}
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if _, bare := err.(HTTPError); !bare && httpErr.Code < http.StatusInternalServerError {
			msg = err.Error()
		}
		return httpErr, msg
	}
	return ErrInternalServerError, http.StatusText(http.StatusInternalServerError)
}
