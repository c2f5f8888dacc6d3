// Package templates holds the per-channel message catalog used to render
// notifications for providers that need more than a title and a message.
//
// Entries are keyed by channel, notification type and locale. Lookup picks
// the closest locale with golang.org/x/text/language and falls back to the
// "generic" type when a type has no entry of its own.
package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"sync"
	texttemplate "text/template"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// GenericType is the fallback notification type.
const GenericType = "generic"

var (
	ErrTemplateNotFound = errors.New("templates: template not found")
	ErrInvalidCatalog   = errors.New("templates: invalid catalog")
	ErrRenderFailed     = errors.New("templates: render failed")
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry is a single catalog row as stored in YAML.
type Entry struct {
	Channel string `yaml:"channel"`
	Type    string `yaml:"type"`
	Locale  string `yaml:"locale"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type catalogFile struct {
	Templates []Entry `yaml:"templates"`
}

// Template is a parsed catalog entry ready to render.
type Template struct {
	Channel string
	Type    string
	Locale  string

	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Data is what templates are executed against.
type Data struct {
	UserID   string
	Type     string
	Title    string
	Message  string
	Metadata map[string]any
}

type groupKey struct {
	channel string
	typ     string
}

type group struct {
	tags      []language.Tag
	templates []*Template
	matcher   language.Matcher
}

// Catalog is an immutable set of templates. Safe for concurrent use.
type Catalog struct {
	groups map[groupKey]*group
}

// Parse reads a YAML catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	c := &Catalog{groups: make(map[groupKey]*group)}
	for i, e := range f.Templates {
		if e.Channel == "" || e.Type == "" {
			return nil, fmt.Errorf("%w: entry %d needs channel and type", ErrInvalidCatalog, i)
		}
		if e.Locale == "" {
			e.Locale = "en"
		}
		tag, err := language.Parse(e.Locale)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d locale %q: %v", ErrInvalidCatalog, i, e.Locale, err)
		}
		tpl, err := compile(e)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidCatalog, i, err)
		}

		k := groupKey{channel: e.Channel, typ: e.Type}
		g, ok := c.groups[k]
		if !ok {
			g = &group{}
			c.groups[k] = g
		}
		g.tags = append(g.tags, tag)
		g.templates = append(g.templates, tpl)
	}
	for _, g := range c.groups {
		g.matcher = language.NewMatcher(g.tags)
	}
	return c, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return Parse(f)
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(bytes.NewReader(defaultCatalog))
	})
	return defaultCat, defaultErr
}

// Lookup returns the best template for (channel, type, locale), falling
// back to the generic type of the same channel.
func (c *Catalog) Lookup(channel, typ, locale string) (*Template, error) {
	for _, t := range []string{typ, GenericType} {
		g, ok := c.groups[groupKey{channel: channel, typ: t}]
		if !ok {
			continue
		}
		return g.match(locale), nil
	}
	return nil, fmt.Errorf("%w: channel=%s type=%s", ErrTemplateNotFound, channel, typ)
}

func (g *group) match(locale string) *Template {
	if locale == "" {
		return g.templates[0]
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return g.templates[0]
	}
	_, idx, conf := g.matcher.Match(tag)
	if conf == language.No {
		return g.templates[0]
	}
	return g.templates[idx]
}

func compile(e Entry) (*Template, error) {
	name := e.Channel + "." + e.Type + "." + e.Locale
	t := &Template{Channel: e.Channel, Type: e.Type, Locale: e.Locale}

	var err error
	if t.subject, err = texttemplate.New(name + ".subject").Option("missingkey=zero").Parse(e.Subject); err != nil {
		return nil, err
	}
	if e.Channel == "email" {
		t.html, err = htmltemplate.New(name + ".body").Option("missingkey=zero").Parse(e.Body)
	} else {
		t.text, err = texttemplate.New(name + ".body").Option("missingkey=zero").Parse(e.Body)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Render executes the subject and body against data. Email bodies are
// HTML-escaped, other channels are plain text.
func (t *Template) Render(data Data) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", errors.Join(ErrRenderFailed, err)
	}
	if t.html != nil {
		err = t.html.Execute(&bb, data)
	} else {
		err = t.text.Execute(&bb, data)
	}
	if err != nil {
		return "", "", errors.Join(ErrRenderFailed, err)
	}
	return sb.String(), bb.String(), nil
}
