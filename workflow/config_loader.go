package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"gopkg.in/yaml.v3"

	"netops-flow/shared"
)

// Definition is a workflow as authored in a YAML or JSON file, plus the
// inputs used when it is run from the command line.
type Definition struct {
	shared.Workflow `yaml:",inline"`
	Inputs          map[string]interface{} `yaml:"inputs,omitempty"`
}

// ValidationOptions tunes save-time validation
type ValidationOptions struct {
	RejectCycles bool
}

// LoadDefinition reads a workflow definition from a YAML or JSON file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a YAML (or JSON, which YAML accepts) workflow definition
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	if len(def.Nodes) == 0 {
		return nil, errors.New("workflow definition must contain at least one node")
	}
	return &def, nil
}

// ValidateDefinition checks a workflow before it is saved. It reports every
// problem found, not just the first.
func ValidateDefinition(wf *shared.Workflow, opts ValidationOptions) error {
	var errs []error

	if len(wf.Nodes) == 0 {
		errs = append(errs, errors.New("workflow must contain at least one node"))
	}
	for _, node := range wf.Nodes {
		if strings.TrimSpace(node.Ref) == "" {
			errs = append(errs, fmt.Errorf("node %q has an empty ref", node.Name))
			continue
		}
		handler, err := BindNode(node)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expr := handlerExpression(handler); expr != "" {
			if err := CheckExpression(expr); err != nil {
				errs = append(errs, &NodeExecutionError{NodeRef: node.Ref, Err: err})
			}
		}
	}

	g := NewGraph(wf)
	if err := g.Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, e := range wf.Edges {
		if strings.TrimSpace(e.Condition) == "" {
			continue
		}
		if err := CheckExpression(e.Condition); err != nil {
			errs = append(errs, fmt.Errorf("edge %d (%s -> %s): %w", i, e.SourceRef, e.TargetRef, err))
		}
	}

	if len(wf.Nodes) > 0 && len(g.EntryPoints()) == 0 {
		errs = append(errs, errors.New("no entry point: every node has an incoming edge"))
	}
	if opts.RejectCycles {
		if cycle := g.FindCycle(); cycle != nil {
			errs = append(errs, fmt.Errorf("cycle detected: %s -> %s", strings.Join(cycle, " -> "), cycle[0]))
		}
	}

	return errors.Join(errs...)
}

// CheckExpression parses expr without evaluating it
func CheckExpression(expr string) error {
	src := strings.TrimSpace(expr)
	if err := checkSource(src); err != nil {
		return &EvaluationError{Expression: expr, Err: err}
	}
	if _, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1}); diags.HasErrors() {
		return &EvaluationError{Expression: expr, Err: diags}
	}
	return nil
}

func handlerExpression(h NodeHandler) string {
	switch n := h.(type) {
	case ConditionNode:
		return n.Expression
	case SwitchNode:
		return n.Expression
	case TransformNode:
		return n.Expression
	}
	return ""
}
