package templates_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/email/templates"
)

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("joined paragraphs", func(t *testing.T) {
		t.Parallel()
		out, err := templates.Render(context.Background(), templ.Join(
			templates.Paragraph("Payment of ", "30.00 USD", "."),
			templates.Paragraph("Thanks."),
		))
		require.NoError(t, err)
		assert.Equal(t, "<p>Payment of 30.00 USD.</p><p>Thanks.</p>", out)
	})

	t.Run("values are escaped", func(t *testing.T) {
		t.Parallel()
		out, err := templates.Render(context.Background(), templates.Paragraph("reason: ", "<script>x</script>"))
		require.NoError(t, err)
		assert.NotContains(t, out, "<script>")
		assert.Contains(t, out, "&lt;script&gt;")
	})

	t.Run("component error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		_, err := templates.Render(context.Background(), templ.ComponentFunc(func(context.Context, io.Writer) error {
			return boom
		}))
		assert.ErrorIs(t, err, boom)
	})
}
