// Package template renders playbook message templates with member variables
// using the Liquid template language.
package template

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/fitflow/retention/internal/domain"
)

// ErrNotFound is returned by Store implementations when a template does not
// exist for the organization.
var ErrNotFound = errors.New("template not found")

// Store loads template definitions.
type Store interface {
	// GetTemplate returns one template scoped to the organization.
	GetTemplate(ctx context.Context, orgID, id string) (*domain.MessageTemplate, error)
}

// Renderer compiles and renders Liquid templates, caching compiled templates
// keyed by content checksum so edits invalidate naturally.
type Renderer struct {
	store  Store
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template, keyed by md5 of source
}

// NewRenderer creates a renderer with the domain filters registered.
func NewRenderer(store Store) *Renderer {
	r := &Renderer{
		store:  store,
		engine: liquid.NewEngine(),
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ first_name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// {{ user_input | escape }}
	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Render loads the template and renders subject and body with the given
// variables. Missing variables render empty rather than failing a send.
func (r *Renderer) Render(ctx context.Context, orgID, templateID string, vars map[string]any) (string, string, error) {
	tpl, err := r.store.GetTemplate(ctx, orgID, templateID)
	if err != nil {
		return "", "", fmt.Errorf("load template %s: %w", templateID, err)
	}

	subject, err := r.renderSource(tpl.Subject, vars)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err := r.renderSource(tpl.Body, vars)
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject, body, nil
}

// RenderPreview renders raw template source without a stored template, for
// the template editor's preview endpoint.
func (r *Renderer) RenderPreview(source string, vars map[string]any) (string, error) {
	return r.renderSource(source, vars)
}

func (r *Renderer) renderSource(source string, vars map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}

	key := fmt.Sprintf("%x", md5.Sum([]byte(source)))
	var compiled *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		compiled = cached.(*liquid.Template)
	} else {
		t, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(key, t)
		compiled = t
	}

	out, err := compiled.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}
