package templates

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Render renders a templ component to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// EmailLayout wraps an already-rendered HTML body in the standard email
// document. The subject is escaped, the body is trusted.
func EmailLayout(subject, bodyHTML string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, templ.EscapeString(subject)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</title></head><body style="font-family:sans-serif;line-height:1.5"><div style="max-width:600px;margin:0 auto">`); err != nil {
			return err
		}
		if err := templ.Raw(bodyHTML).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</div></body></html>`)
		return err
	})
}

// Card renders a compact notification element, used by live HTML streams.
// id becomes the element id so clients can patch or remove it later.
func Card(id, title, message string, read bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		class := "notification"
		if !read {
			class += " notification--unread"
		}
		var sb strings.Builder
		sb.WriteString(`<div id="notification-`)
		sb.WriteString(templ.EscapeString(id))
		sb.WriteString(`" class="`)
		sb.WriteString(class)
		sb.WriteString(`"><strong>`)
		sb.WriteString(templ.EscapeString(title))
		sb.WriteString(`</strong><p>`)
		sb.WriteString(templ.EscapeString(message))
		sb.WriteString(`</p></div>`)
		_, err := io.WriteString(w, sb.String())
		return err
	})
}
