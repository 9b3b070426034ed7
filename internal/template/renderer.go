// Package template renders message templates with the Liquid template
// language for recipient personalization.
package template

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// Renderer implements engine.TemplateRenderer over the message_templates
// table. Parsed templates are cached per (template id, version) so repeated
// dispatches of the same step don't re-parse.
type Renderer struct {
	db     *sql.DB
	engine *liquid.Engine
	cache  sync.Map // map[string]cachedTemplate
}

type cachedTemplate struct {
	version int
	subject *liquid.Template
	body    *liquid.Template
}

// NewRenderer creates a renderer with the domain filters registered.
func NewRenderer(db *sql.DB) *Renderer {
	r := &Renderer{
		db:     db,
		engine: liquid.NewEngine(),
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ user_input | escape }}
	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Render resolves the template and substitutes vars into its subject and
// body. A missing or inactive template yields engine.ErrTemplateUnavailable;
// the caller treats that as transient and retries on a later run.
func (r *Renderer) Render(ctx context.Context, templateID string, vars map[string]any) (*engine.RenderedMessage, error) {
	var subjectSrc, bodySrc string
	var version int
	err := r.db.QueryRowContext(ctx, `
		SELECT subject, html_body, version
		FROM message_templates
		WHERE id = $1 AND active = TRUE`, templateID).
		Scan(&subjectSrc, &bodySrc, &version)
	if err == sql.ErrNoRows {
		return nil, engine.ErrTemplateUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}

	tpl, err := r.compiled(templateID, version, subjectSrc, bodySrc)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", templateID, err)
	}

	subject, err := tpl.subject.RenderString(vars)
	if err != nil {
		return nil, fmt.Errorf("render subject for %s: %w", templateID, err)
	}
	body, err := tpl.body.RenderString(vars)
	if err != nil {
		return nil, fmt.Errorf("render body for %s: %w", templateID, err)
	}

	return &engine.RenderedMessage{Subject: subject, HTML: body}, nil
}

func (r *Renderer) compiled(id string, version int, subjectSrc, bodySrc string) (cachedTemplate, error) {
	if v, ok := r.cache.Load(id); ok {
		if ct := v.(cachedTemplate); ct.version == version {
			return ct, nil
		}
	}

	subject, err := r.engine.ParseString(subjectSrc)
	if err != nil {
		return cachedTemplate{}, err
	}
	body, err := r.engine.ParseString(bodySrc)
	if err != nil {
		return cachedTemplate{}, err
	}

	ct := cachedTemplate{version: version, subject: subject, body: body}
	r.cache.Store(id, ct)
	return ct, nil
}
