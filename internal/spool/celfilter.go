package spool

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/odesys/relay/internal/event"
)

// celFilter wraps a compiled CEL program and provides the common evaluator
// used by ingest filtering and forwarding match rules. When disabled, Eval
// always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("observed_at_ms", cel.IntType),
		// Opaque source metadata for field filtering
		cel.Variable("extra", cel.MapType(cel.StringType, cel.StringType)),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against an event. When disabled,
// returns true. Evaluation errors count as no-match.
func (f celFilter) Eval(ev event.Event, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	extra := ev.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"source":         ev.Source,
		"origin":         ev.OriginKey,
		"title":          ev.Title,
		"body":           ev.Body,
		"observed_at_ms": ev.ObservedAt,
		"extra":          extra,
		"now_ms":         nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
