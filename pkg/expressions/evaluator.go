// Package expressions evaluates JMESPath queries against decoded API responses.
package expressions

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator evaluates JMESPath expressions, compiling each distinct expression once.
type Evaluator struct {
	mu       sync.RWMutex
	compiled map[string]*jmespath.JMESPath
}

func NewEvaluator() *Evaluator {
	return &Evaluator{compiled: map[string]*jmespath.JMESPath{}}
}

// Evaluate runs expression against data. A path that matches nothing returns nil.
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	query, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	result, err := query.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateSlice evaluates an expression that should produce a list. ok is false when the
// expression matched nothing or produced something other than a list.
func (e *Evaluator) EvaluateSlice(expression string, data any) ([]any, bool, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return nil, false, err
	}
	values, ok := result.([]any)
	return values, ok, nil
}

// Objects evaluates expression and keeps only the JSON objects of the resulting list.
// ok is false when the expression did not produce a list.
func (e *Evaluator) Objects(expression string, data any) ([]map[string]any, bool, error) {
	values, ok, err := e.EvaluateSlice(expression, data)
	if err != nil || !ok {
		return nil, ok, err
	}

	objects := make([]map[string]any, 0, len(values))
	for _, value := range values {
		if object, isObject := value.(map[string]any); isObject {
			objects = append(objects, object)
		}
	}
	return objects, true, nil
}

func (e *Evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	query, ok := e.compiled[expression]
	e.mu.RUnlock()
	if ok {
		return query, nil
	}

	query, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	e.mu.Lock()
	e.compiled[expression] = query
	e.mu.Unlock()
	return query, nil
}
