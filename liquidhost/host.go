// Package liquidhost registers the link preview tag with an osteele/liquid
// engine.
package liquidhost

import (
	"context"
	"strings"

	"github.com/osteele/liquid"
	"github.com/osteele/liquid/render"

	"github.com/wolfeidau/linkpreview/tag"
)

// DefaultTagName is the name the tag is registered under by the CLI.
const DefaultTagName = "linkpreview"

// contextKey holds the render context in the bindings. Template identifiers
// cannot contain NUL, so templates never see it.
const contextKey = "\x00linkpreview.context"

// Register installs t on engine as {% name markup %}. Each render takes its
// context from the bindings passed through WithContext, so one engine can
// serve renders with different deadlines. Renders without one use
// context.Background.
func Register(engine *liquid.Engine, name string, t *tag.Tag) {
	engine.RegisterTag(name, func(rc render.Context) (string, error) {
		return t.Render(renderContext(rc), t.Parse(markup(rc)), scope{rc}), nil
	})
}

// NewEngine returns a liquid engine with t registered under DefaultTagName.
func NewEngine(t *tag.Tag) *liquid.Engine {
	engine := liquid.NewEngine()
	Register(engine, DefaultTagName, t)
	return engine
}

// WithContext returns a copy of bindings carrying ctx for the previews
// rendered with them.
func WithContext(ctx context.Context, bindings map[string]any) map[string]any {
	b := make(map[string]any, len(bindings)+1)
	for k, v := range bindings {
		b[k] = v
	}
	b[contextKey] = ctx
	return b
}

func renderContext(rc render.Context) context.Context {
	if ctx, ok := rc.Bindings()[contextKey].(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// markup returns the tag arguments with {{ }} expressions expanded.
func markup(rc render.Context) string {
	args := rc.TagArgs()
	if !strings.Contains(args, "{{") {
		return args
	}
	expanded, err := rc.ExpandTagArg()
	if err != nil {
		return args
	}
	return expanded
}

// scope exposes liquid variables to the tag.
type scope struct {
	rc render.Context
}

// Lookup evaluates name as a liquid expression. Errors and nil values count
// as unbound.
func (s scope) Lookup(name string) (any, bool) {
	v, err := s.rc.EvaluateString(name)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}
