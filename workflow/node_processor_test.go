package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"netops-flow/jobs"
	"netops-flow/shared"
)

type recorded struct {
	level   shared.LogLevel
	message string
	fields  map[string]interface{}
}

func testEnv(ctx map[string]interface{}, js jobs.JobService) (*NodeEnv, *[]recorded) {
	var entries []recorded
	env := &NodeEnv{
		RunID:     1,
		TenantID:  7,
		Actor:     "alice",
		Context:   ctx,
		Evaluator: NewConditionEvaluator(zap.NewNop()),
		Jobs:      js,
		Record: func(level shared.LogLevel, message string, fields map[string]interface{}) {
			entries = append(entries, recorded{level, message, fields})
		},
	}
	return env, &entries
}

func TestBindNodeRejectsBadConfig(t *testing.T) {
	cases := map[string]shared.Node{
		"unknown category":     {Ref: "n", Category: "robot", Type: "x"},
		"unknown logic type":   {Ref: "n", Category: shared.CategoryLogic, Type: "while"},
		"unknown data type":    {Ref: "n", Category: shared.CategoryData, Type: "pivot"},
		"missing job type":     {Ref: "n", Category: shared.CategoryService, Type: "backup"},
		"bad simulate":         {Ref: "n", Category: shared.CategoryService, Type: "backup", Config: map[string]interface{}{"job_type": "backup", "simulate": "no"}},
		"bad filters":          {Ref: "n", Category: shared.CategoryService, Type: "backup", Config: map[string]interface{}{"job_type": "backup", "filters": "all"}},
		"missing expression":   {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeCondition},
		"blank expression":     {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeSwitch, Config: map[string]interface{}{"expression": "  "}},
		"negative iterations":  {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": -1}},
		"fractional iteration": {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": 1.5}},
		"huge float count":     {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": 1e300}},
		"negative float":       {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": -1e300}},
		"huge int count":       {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": int64(math.MaxInt64)}},
		"huge json count":      {Ref: "n", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop, Config: map[string]interface{}{"iterations": json.Number("9223372036854775807")}},
		"missing value":        {Ref: "n", Category: shared.CategoryData, Type: shared.NodeTypeSetVariable, Config: map[string]interface{}{"key": "mode"}},
		"missing key":          {Ref: "n", Category: shared.CategoryData, Type: shared.NodeTypeSetVariable, Config: map[string]interface{}{"value": 1}},
		"missing message":      {Ref: "n", Category: shared.CategoryNotification, Type: "email"},
		"empty channel":        {Ref: "n", Category: shared.CategoryNotification, Type: "email", Config: map[string]interface{}{"message": "hi", "channel": ""}},
	}
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BindNode(n)
			var nodeErr *NodeExecutionError
			require.True(t, errors.As(err, &nodeErr), "got %v", err)
			assert.Equal(t, "n", nodeErr.NodeRef)
		})
	}
}

func TestBindNodeDefaults(t *testing.T) {
	h, err := BindNode(shared.Node{Ref: "svc", Category: shared.CategoryService, Type: "backup",
		Config: map[string]interface{}{"job_type": "backup", "filters": map[string]interface{}{"site": "lab"}}})
	require.NoError(t, err)
	svc := h.(ServiceNode)
	assert.True(t, svc.Simulate)
	assert.Equal(t, map[string]interface{}{"site": "lab"}, svc.Targets)
	assert.Empty(t, svc.Payload)

	h, err = BindNode(shared.Node{Ref: "loop", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop})
	require.NoError(t, err)
	assert.Equal(t, 1, h.(LoopNode).Iterations)

	h, err = BindNode(shared.Node{Ref: "loop", Category: shared.CategoryLogic, Type: shared.NodeTypeLoop,
		Config: map[string]interface{}{"iterations": json.Number("4")}})
	require.NoError(t, err)
	assert.Equal(t, 4, h.(LoopNode).Iterations)

	h, err = BindNode(shared.Node{Ref: "note", Category: shared.CategoryNotification, Type: "slack",
		Config: map[string]interface{}{"message": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "log", h.(NotifyNode).Channel)
}

func TestServiceNodeSimulated(t *testing.T) {
	js := jobs.NewInMemoryJobService(zap.NewNop())
	env, entries := testEnv(nil, js)

	res, err := ServiceNode{Ref: "svc", JobType: "backup", Targets: map[string]interface{}{"site": "lab"}, Simulate: true}.
		Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"job_type":  "backup",
		"simulated": true,
		"targets":   map[string]interface{}{"site": "lab"},
	}, res.Output)
	assert.Empty(t, js.Jobs())
	assert.Len(t, *entries, 1)
}

func TestServiceNodeQueuesJob(t *testing.T) {
	js := jobs.NewInMemoryJobService(zap.NewNop())
	env, _ := testEnv(nil, js)

	res, err := ServiceNode{Ref: "svc", JobType: "config_backup", Targets: map[string]interface{}{"role": "edge"},
		Payload: map[string]interface{}{"full": true}}.Execute(context.Background(), env)
	require.NoError(t, err)

	queued := js.Jobs()
	require.Len(t, queued, 1)
	assert.Equal(t, queued[0].ID, res.Output["job_id"])
	assert.Equal(t, "config_backup", res.Output["job_type"])
	assert.Equal(t, "alice", queued[0].Actor)
	assert.Equal(t, int64(7), queued[0].TenantID)
	assert.Equal(t, true, queued[0].Payload["full"])
}

func TestServiceNodeWithoutJobServiceFails(t *testing.T) {
	env, _ := testEnv(nil, nil)
	_, err := ServiceNode{Ref: "svc", JobType: "backup"}.Execute(context.Background(), env)

	var nodeErr *NodeExecutionError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "svc", nodeErr.NodeRef)
}

func TestLogicAndDataHandlers(t *testing.T) {
	ctx := map[string]interface{}{"mode": "full", "n": 3}
	env, _ := testEnv(ctx, nil)
	env.Last = map[string]interface{}{"condition": true}
	bg := context.Background()

	res, err := ConditionNode{Ref: "c", Expression: `context.mode == "full"`}.Execute(bg, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"condition": true}, res.Output)

	res, err = SwitchNode{Ref: "s", Expression: `context.n * 2`}.Execute(bg, env)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Output["value"])

	res, err = TransformNode{Ref: "t", Expression: `last.condition ? "go" : "stop"`}.Execute(bg, env)
	require.NoError(t, err)
	assert.Equal(t, "go", res.Output["value"])

	res, err = LoopNode{Ref: "l", Iterations: 3}.Execute(bg, env)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Output["iterations"])

	res, err = SetVariableNode{Ref: "v", Key: "site", Value: "lab"}.Execute(bg, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"site": "lab"}, res.ContextDelta)
	assert.Equal(t, map[string]interface{}{"context": map[string]interface{}{"site": "lab"}}, res.Output)

	res, err = InputNode{Ref: "i"}.Execute(bg, env)
	require.NoError(t, err)
	snapshot := res.Output["context"].(map[string]interface{})
	assert.Equal(t, ctx, snapshot)
	snapshot["mode"] = "changed"
	assert.Equal(t, "full", ctx["mode"])

	_, err = ConditionNode{Ref: "c", Expression: `context.nope`}.Execute(bg, env)
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))
}

func TestNotifyNodeRendersMessage(t *testing.T) {
	env, entries := testEnv(map[string]interface{}{"site": "lab"}, nil)

	res, err := NotifyNode{Ref: "n", Message: "Backup of ${context.site} finished", Channel: "slack"}.
		Execute(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"delivered": true,
		"channel":   "slack",
		"message":   "Backup of lab finished",
	}, res.Output)
	require.Len(t, *entries, 1)
	assert.Equal(t, shared.LogLevelInfo, (*entries)[0].level)
	assert.Equal(t, "slack", (*entries)[0].fields["channel"])
}
