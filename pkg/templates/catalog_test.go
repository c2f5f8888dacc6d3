package templates_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/templates"
)

func TestDefault_Lookup(t *testing.T) {
	cat, err := templates.Default()
	require.NoError(t, err)

	tests := []struct {
		name       string
		channel    string
		typ        string
		locale     string
		wantType   string
		wantLocale string
	}{
		{"exact", "email", "order_shipped", "en", "order_shipped", "en"},
		{"regional locale", "email", "order_shipped", "de-AT", "order_shipped", "de"},
		{"unknown locale", "email", "order_shipped", "ja", "order_shipped", "en"},
		{"empty locale", "email", "order_shipped", "", "order_shipped", "en"},
		{"generic fallback", "email", "comment_mention", "en", "generic", "en"},
		{"generic fallback german", "email", "comment_mention", "de", "generic", "de"},
		{"push generic", "push", "order_created", "en", "generic", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := cat.Lookup(tt.channel, tt.typ, tt.locale)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, tpl.Type)
			assert.Equal(t, tt.wantLocale, tpl.Locale)
		})
	}

	_, err = cat.Lookup("sms", "order_created", "en")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestTemplate_Render(t *testing.T) {
	cat, err := templates.Default()
	require.NoError(t, err)

	tpl, err := cat.Lookup("email", "order_shipped", "en")
	require.NoError(t, err)

	subject, body, err := tpl.Render(templates.Data{
		Title:    "Order #42",
		Message:  "Shipped <today>",
		Metadata: map[string]any{"tracking_number": "TRK-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Your order is on its way: Order #42", subject)
	assert.Contains(t, body, "Shipped &lt;today&gt;")
	assert.Contains(t, body, "TRK-1")

	_, body, err = tpl.Render(templates.Data{Title: "Order #43", Message: "Shipped"})
	require.NoError(t, err)
	assert.NotContains(t, body, "Tracking number")
}

func TestParse_Invalid(t *testing.T) {
	_, err := templates.Parse(strings.NewReader("templates:\n  - channel: email\n"))
	assert.ErrorIs(t, err, templates.ErrInvalidCatalog)

	_, err = templates.Parse(strings.NewReader("templates:\n  - channel: email\n    type: generic\n    subject: \"{{.Title\"\n"))
	assert.ErrorIs(t, err, templates.ErrInvalidCatalog)

	_, err = templates.Parse(strings.NewReader("templates:\n  - channel: email\n    type: generic\n    locale: \"not a locale!\"\n"))
	assert.ErrorIs(t, err, templates.ErrInvalidCatalog)
}

func TestComponents(t *testing.T) {
	html, err := templates.Render(context.Background(), templates.EmailLayout("Hi <you>", "<p>body</p>"))
	require.NoError(t, err)
	assert.Contains(t, html, "<title>Hi &lt;you&gt;</title>")
	assert.Contains(t, html, "<p>body</p>")

	card, err := templates.Render(context.Background(), templates.Card("n1", "Title", "a & b", false))
	require.NoError(t, err)
	assert.Contains(t, card, `id="notification-n1"`)
	assert.Contains(t, card, "notification--unread")
	assert.Contains(t, card, "a &amp; b")
}
