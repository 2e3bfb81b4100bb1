package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query is a compiled jq expression evaluated against the JSON form of a
// graph, e.g. `.nodes[] | select(.type == "KSampler") | .id`.
type Query struct {
	expression string
	code       *gojq.Code
}

// CompileQuery parses and compiles a jq expression.
func CompileQuery(expression string) (*Query, error) {
	if expression == "" {
		return nil, fmt.Errorf("graph: query expression is required")
	}
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("graph: invalid query %q: %w", expression, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to compile query %q: %w", expression, err)
	}
	return &Query{expression: expression, code: code}, nil
}

// String returns the source expression.
func (q *Query) String() string { return q.expression }

// Run evaluates the query against g and collects every result.
func (q *Query) Run(ctx context.Context, g *Graph) ([]any, error) {
	input, err := normalize(g)
	if err != nil {
		return nil, err
	}

	iter := q.code.RunWithContext(ctx, input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("graph: query %q: %w", q.expression, err)
		}
		results = append(results, v)
	}
	return results, nil
}

// Query compiles and runs expression against g.
func (g *Graph) Query(ctx context.Context, expression string) ([]any, error) {
	q, err := CompileQuery(expression)
	if err != nil {
		return nil, err
	}
	return q.Run(ctx, g)
}

// normalize converts the graph into the map/slice values gojq operates on.
func normalize(g *Graph) (any, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("graph: encode: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}
	return v, nil
}
