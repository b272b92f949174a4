package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

// MaxExpressionLength bounds user-authored expressions and templates
const MaxExpressionLength = 4096

// ConditionEvaluator evaluates expressions over a closed scope.
// The only variables are `context` (run context) and `last` (last node output);
// the only functions are the ones in expressionFunctions.
type ConditionEvaluator struct {
	functions map[string]function.Function
	logger    *zap.Logger
}

// NewConditionEvaluator creates an evaluator with the built-in function allow-list
func NewConditionEvaluator(logger *zap.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{
		functions: expressionFunctions(),
		logger:    logger,
	}
}

// Evaluate parses and evaluates expr, returning a bool, int64, float64, string,
// []interface{} or map[string]interface{}.
func (ce *ConditionEvaluator) Evaluate(expr string, runContext, last map[string]interface{}) (interface{}, error) {
	src := strings.TrimSpace(expr)
	if err := checkSource(src); err != nil {
		return nil, &EvaluationError{Expression: expr, Err: err}
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, &EvaluationError{Expression: expr, Err: diags}
	}

	val, err := ce.value(parsed, runContext, last)
	if err != nil {
		return nil, &EvaluationError{Expression: expr, Err: err}
	}

	result, err := fromCty(val)
	if err != nil {
		return nil, &EvaluationError{Expression: expr, Err: err}
	}

	ce.logger.Debug("Evaluated expression",
		zap.String("expression", src),
		zap.Any("result", result))
	return result, nil
}

// EvaluateBool evaluates expr and applies Truthy to the result
func (ce *ConditionEvaluator) EvaluateBool(expr string, runContext, last map[string]interface{}) (bool, error) {
	v, err := ce.Evaluate(expr, runContext, last)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Render expands a string template such as "backup ${context.mode}" over the same scope
func (ce *ConditionEvaluator) Render(template string, runContext, last map[string]interface{}) (string, error) {
	if err := checkSource(template); err != nil {
		return "", &EvaluationError{Expression: template, Err: err}
	}

	parsed, diags := hclsyntax.ParseTemplate([]byte(template), "template", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return "", &EvaluationError{Expression: template, Err: diags}
	}

	val, err := ce.value(parsed, runContext, last)
	if err != nil {
		return "", &EvaluationError{Expression: template, Err: err}
	}
	if val.IsNull() || val.Type() != cty.String {
		return "", &EvaluationError{Expression: template, Err: fmt.Errorf("template did not produce a string")}
	}
	return val.AsString(), nil
}

func (ce *ConditionEvaluator) value(expr hclsyntax.Expression, runContext, last map[string]interface{}) (cty.Value, error) {
	evalCtx, err := ce.evalContext(runContext, last)
	if err != nil {
		return cty.NilVal, err
	}

	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if !val.IsWhollyKnown() {
		return cty.NilVal, errors.New("expression result is not fully known")
	}
	return val, nil
}

func (ce *ConditionEvaluator) evalContext(runContext, last map[string]interface{}) (*hcl.EvalContext, error) {
	ctxVal, err := objectToCty(runContext)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	lastVal, err := objectToCty(last)
	if err != nil {
		return nil, fmt.Errorf("last: %w", err)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"context": ctxVal,
			"last":    lastVal,
		},
		Functions: ce.functions,
	}, nil
}

func checkSource(src string) error {
	if src == "" {
		return errors.New("empty expression")
	}
	if len(src) > MaxExpressionLength {
		return fmt.Errorf("expression exceeds %d bytes", MaxExpressionLength)
	}
	return nil
}
