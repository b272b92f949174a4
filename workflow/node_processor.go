package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"netops-flow/jobs"
	"netops-flow/shared"
)

// NodeResult is what a handler hands back to the executor.
// ContextDelta is merged into the run context after the step succeeds.
type NodeResult struct {
	Output       map[string]interface{}
	ContextDelta map[string]interface{}
}

// NodeEnv is everything a handler may read or call while executing one node.
// Context is a snapshot; handlers change the run context only through ContextDelta.
type NodeEnv struct {
	RunID     int64
	TenantID  int64
	Actor     string
	Context   map[string]interface{}
	Last      map[string]interface{}
	Evaluator *ConditionEvaluator
	Jobs      jobs.JobService
	Record    func(level shared.LogLevel, message string, fields map[string]interface{})
}

func (env *NodeEnv) record(level shared.LogLevel, message string, fields map[string]interface{}) {
	if env.Record != nil {
		env.Record(level, message, fields)
	}
}

// NodeHandler executes one bound node. The set of implementations is closed.
type NodeHandler interface {
	Execute(ctx context.Context, env *NodeEnv) (NodeResult, error)
	nodeHandler()
}

// ServiceNode queues a fleet job, or describes it when simulating
type ServiceNode struct {
	Ref      string
	JobType  string
	Targets  map[string]interface{}
	Payload  map[string]interface{}
	Simulate bool
}

// ConditionNode evaluates a boolean expression
type ConditionNode struct {
	Ref        string
	Expression string
}

// SwitchNode evaluates an expression to an arbitrary value
type SwitchNode struct {
	Ref        string
	Expression string
}

// LoopNode reports an iteration count. Predecessors are not re-executed.
type LoopNode struct {
	Ref        string
	Iterations int
}

// SetVariableNode writes one key into the run context
type SetVariableNode struct {
	Ref   string
	Key   string
	Value interface{}
}

// TransformNode evaluates an expression to a value
type TransformNode struct {
	Ref        string
	Expression string
}

// InputNode passes the current context through
type InputNode struct {
	Ref string
}

// NotifyNode records a notification intent. Delivery belongs to an external collaborator.
type NotifyNode struct {
	Ref     string
	Message string
	Channel string
}

func (ServiceNode) nodeHandler()     {}
func (ConditionNode) nodeHandler()   {}
func (SwitchNode) nodeHandler()      {}
func (LoopNode) nodeHandler()        {}
func (SetVariableNode) nodeHandler() {}
func (TransformNode) nodeHandler()   {}
func (InputNode) nodeHandler()       {}
func (NotifyNode) nodeHandler()      {}

// BindNode selects and configures the handler for a node from its category and type.
// Configuration problems are reported as *NodeExecutionError.
func BindNode(node shared.Node) (NodeHandler, error) {
	switch node.Category {
	case shared.CategoryService:
		return bindService(node)
	case shared.CategoryLogic:
		switch node.Type {
		case shared.NodeTypeCondition:
			expr, err := requiredString(node, "expression")
			if err != nil {
				return nil, err
			}
			return ConditionNode{Ref: node.Ref, Expression: expr}, nil
		case shared.NodeTypeSwitch:
			expr, err := requiredString(node, "expression")
			if err != nil {
				return nil, err
			}
			return SwitchNode{Ref: node.Ref, Expression: expr}, nil
		case shared.NodeTypeLoop:
			n, err := optionalCount(node, "iterations", 1)
			if err != nil {
				return nil, err
			}
			return LoopNode{Ref: node.Ref, Iterations: n}, nil
		}
	case shared.CategoryData:
		switch node.Type {
		case shared.NodeTypeSetVariable:
			key, err := requiredString(node, "key")
			if err != nil {
				return nil, err
			}
			value, ok := node.Config["value"]
			if !ok {
				return nil, nodeError(node.Ref, "config key %q is required", "value")
			}
			return SetVariableNode{Ref: node.Ref, Key: key, Value: value}, nil
		case shared.NodeTypeTransform:
			expr, err := requiredString(node, "expression")
			if err != nil {
				return nil, err
			}
			return TransformNode{Ref: node.Ref, Expression: expr}, nil
		case shared.NodeTypeInput:
			return InputNode{Ref: node.Ref}, nil
		}
	case shared.CategoryNotification:
		msg, err := requiredString(node, "message")
		if err != nil {
			return nil, err
		}
		channel := "log"
		if raw, ok := node.Config["channel"]; ok {
			s, isString := raw.(string)
			if !isString || s == "" {
				return nil, nodeError(node.Ref, "config key %q must be a non-empty string", "channel")
			}
			channel = s
		}
		return NotifyNode{Ref: node.Ref, Message: msg, Channel: channel}, nil
	default:
		return nil, nodeError(node.Ref, "unknown node category %q", node.Category)
	}
	return nil, nodeError(node.Ref, "unknown %s node type %q", node.Category, node.Type)
}

func bindService(node shared.Node) (NodeHandler, error) {
	jobType, err := requiredString(node, "job_type")
	if err != nil {
		return nil, err
	}

	targets, err := optionalMap(node, "target_summary")
	if err != nil {
		return nil, err
	}
	if targets == nil {
		if targets, err = optionalMap(node, "filters"); err != nil {
			return nil, err
		}
	}
	if targets == nil {
		targets = map[string]interface{}{}
	}

	payload, err := optionalMap(node, "payload")
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	simulate := true
	if raw, ok := node.Config["simulate"]; ok {
		b, isBool := raw.(bool)
		if !isBool {
			return nil, nodeError(node.Ref, "config key %q must be a boolean", "simulate")
		}
		simulate = b
	}

	return ServiceNode{Ref: node.Ref, JobType: jobType, Targets: targets, Payload: payload, Simulate: simulate}, nil
}

// Execute queues the job through the job service; step success means the job was accepted
func (n ServiceNode) Execute(ctx context.Context, env *NodeEnv) (NodeResult, error) {
	if n.Simulate {
		env.record(shared.LogLevelInfo, "Simulated job "+n.JobType, map[string]interface{}{"job_type": n.JobType})
		return NodeResult{Output: map[string]interface{}{
			"job_type":  n.JobType,
			"simulated": true,
			"targets":   shared.CloneMap(n.Targets),
		}}, nil
	}

	if env.Jobs == nil {
		return NodeResult{}, nodeError(n.Ref, "no job service configured for job type %q", n.JobType)
	}
	job, err := env.Jobs.CreateJob(ctx, jobs.JobRequest{
		JobType:       n.JobType,
		Actor:         env.Actor,
		TenantID:      env.TenantID,
		TargetSummary: shared.CloneMap(n.Targets),
		Payload:       shared.CloneMap(n.Payload),
	})
	if err != nil {
		return NodeResult{}, &NodeExecutionError{NodeRef: n.Ref, Err: fmt.Errorf("create %s job: %w", n.JobType, err)}
	}

	env.record(shared.LogLevelInfo, fmt.Sprintf("Queued %s job %d", n.JobType, job.ID), map[string]interface{}{"job_id": job.ID})
	return NodeResult{Output: map[string]interface{}{
		"job_id":   job.ID,
		"job_type": n.JobType,
		"targets":  shared.CloneMap(n.Targets),
	}}, nil
}

func (n ConditionNode) Execute(_ context.Context, env *NodeEnv) (NodeResult, error) {
	ok, err := env.Evaluator.EvaluateBool(n.Expression, env.Context, env.Last)
	if err != nil {
		return NodeResult{}, &NodeExecutionError{NodeRef: n.Ref, Err: err}
	}
	return NodeResult{Output: map[string]interface{}{"condition": ok}}, nil
}

func (n SwitchNode) Execute(_ context.Context, env *NodeEnv) (NodeResult, error) {
	v, err := env.Evaluator.Evaluate(n.Expression, env.Context, env.Last)
	if err != nil {
		return NodeResult{}, &NodeExecutionError{NodeRef: n.Ref, Err: err}
	}
	return NodeResult{Output: map[string]interface{}{"value": v}}, nil
}

func (n LoopNode) Execute(context.Context, *NodeEnv) (NodeResult, error) {
	return NodeResult{Output: map[string]interface{}{"iterations": n.Iterations}}, nil
}

func (n SetVariableNode) Execute(context.Context, *NodeEnv) (NodeResult, error) {
	return NodeResult{
		Output:       map[string]interface{}{"context": map[string]interface{}{n.Key: n.Value}},
		ContextDelta: map[string]interface{}{n.Key: n.Value},
	}, nil
}

func (n TransformNode) Execute(_ context.Context, env *NodeEnv) (NodeResult, error) {
	v, err := env.Evaluator.Evaluate(n.Expression, env.Context, env.Last)
	if err != nil {
		return NodeResult{}, &NodeExecutionError{NodeRef: n.Ref, Err: err}
	}
	return NodeResult{Output: map[string]interface{}{"value": v}}, nil
}

func (n InputNode) Execute(_ context.Context, env *NodeEnv) (NodeResult, error) {
	snapshot := shared.CloneMap(env.Context)
	if snapshot == nil {
		snapshot = map[string]interface{}{}
	}
	return NodeResult{Output: map[string]interface{}{"context": snapshot}}, nil
}

// Execute renders the message and records it in the run journal
func (n NotifyNode) Execute(_ context.Context, env *NodeEnv) (NodeResult, error) {
	message := n.Message
	if strings.Contains(message, "${") {
		rendered, err := env.Evaluator.Render(message, env.Context, env.Last)
		if err != nil {
			return NodeResult{}, &NodeExecutionError{NodeRef: n.Ref, Err: err}
		}
		message = rendered
	}

	env.record(shared.LogLevelInfo, message, map[string]interface{}{"channel": n.Channel})
	return NodeResult{Output: map[string]interface{}{
		"delivered": true,
		"channel":   n.Channel,
		"message":   message,
	}}, nil
}

func requiredString(node shared.Node, key string) (string, error) {
	raw, ok := node.Config[key]
	if !ok {
		return "", nodeError(node.Ref, "config key %q is required", key)
	}
	s, isString := raw.(string)
	if !isString || strings.TrimSpace(s) == "" {
		return "", nodeError(node.Ref, "config key %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalMap(node shared.Node, key string) (map[string]interface{}, error) {
	raw, ok := node.Config[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, isMap := raw.(map[string]interface{})
	if !isMap {
		return nil, nodeError(node.Ref, "config key %q must be a mapping", key)
	}
	return m, nil
}

// optionalCount accepts integers as decoded from YAML (int) or JSON (float64, json.Number),
// bounded to [0, MaxInt32]
func optionalCount(node shared.Node, key string, def int) (int, error) {
	raw, ok := node.Config[key]
	if !ok || raw == nil {
		return def, nil
	}

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, nodeError(node.Ref, "config key %q must be an integer", key)
		}
		if v < 0 || v > math.MaxInt32 {
			return 0, nodeError(node.Ref, "config key %q must be between 0 and %d", key, math.MaxInt32)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, nodeError(node.Ref, "config key %q must be an integer", key)
		}
		n = i
	default:
		return 0, nodeError(node.Ref, "config key %q must be an integer", key)
	}

	if n < 0 || n > math.MaxInt32 {
		return 0, nodeError(node.Ref, "config key %q must be between 0 and %d", key, math.MaxInt32)
	}
	return int(n), nil
}
