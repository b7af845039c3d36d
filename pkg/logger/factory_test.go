package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults to JSON at info", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Debug("hidden")
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "billing")))
		log.Info("msg")
		assert.Equal(t, "billing", decode(t, buf)["svc"])
	})

	t.Run("context extractors", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
				if v, ok := ctx.Value(key{}).(string); ok {
					return slog.String("tenant", v), true
				}
				return slog.Attr{}, false
			}),
		)
		log.InfoContext(context.WithValue(context.Background(), key{}, "ws-1"), "msg")
		assert.Equal(t, "ws-1", decode(t, buf)["tenant"])
	})

	t.Run("extractors survive WithAttrs", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(func(context.Context) (slog.Attr, bool) {
				return slog.String("x", "1"), true
			}),
		).With(logger.Component("engine"))
		log.Info("msg")

		entry := decode(t, buf)
		assert.Equal(t, "1", entry["x"])
		assert.Equal(t, "engine", entry["component"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			logger.New(logger.WithFormat(logger.Format("xml")))
		})
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("development is text at debug", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("development", "svc"), logger.WithOutput(buf))
		log.Debug("msg")
		out := buf.String()
		assert.Contains(t, out, "DEBUG")
		assert.Contains(t, out, "service=svc")
	})

	t.Run("production is json", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("prod", "svc"), logger.WithOutput(buf))
		log.Info("msg")
		entry := decode(t, buf)
		assert.Equal(t, "svc", entry["service"])
		assert.Equal(t, "prod", entry["env"])
	})
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("overrides environment defaults", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log, err := logger.FromConfig(logger.Config{Env: "development", Level: "warn", Format: logger.FormatJSON}, logger.WithOutput(buf))
		require.NoError(t, err)

		log.Info("hidden")
		assert.Empty(t, buf.String())
		log.Warn("shown")
		assert.Equal(t, "shown", decode(t, buf)["msg"])
	})

	t.Run("rejects bad level", func(t *testing.T) {
		t.Parallel()
		_, err := logger.FromConfig(logger.Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("rejects bad format", func(t *testing.T) {
		t.Parallel()
		_, err := logger.FromConfig(logger.Config{Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("injects chi request id", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log, err := logger.FromConfig(logger.Config{Env: "production"}, logger.WithOutput(buf))
		require.NoError(t, err)

		h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.InfoContext(r.Context(), "handled")
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-123")
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "req-123", decode(t, buf)["request_id"])
	})
}
