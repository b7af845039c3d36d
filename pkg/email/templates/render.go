// Package templates renders templ components into email bodies.
package templates

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Render renders tpl into a string suitable for email.Message.HTMLBody.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Paragraph renders parts as one escaped <p> element.
func Paragraph(parts ...string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString("<p>")
		for _, part := range parts {
			sb.WriteString(templ.EscapeString(part))
		}
		sb.WriteString("</p>")
		_, err := io.WriteString(w, sb.String())
		return err
	})
}
