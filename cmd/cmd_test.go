package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"netops-flow/shared"
	"netops-flow/store"
	"netops-flow/workflow"
)

func TestMergeInputs(t *testing.T) {
	base := map[string]interface{}{"site": "lab", "full": false}

	inputs, err := mergeInputs(base, []string{"full=true", "racks=3", "devices=[r1, r2]", "note="})
	require.NoError(t, err)
	assert.Equal(t, "lab", inputs["site"])
	assert.Equal(t, true, inputs["full"])
	assert.Equal(t, 3, inputs["racks"])
	assert.Equal(t, []interface{}{"r1", "r2"}, inputs["devices"])
	assert.Nil(t, inputs["note"])
	assert.Equal(t, false, base["full"])

	_, err = mergeInputs(nil, []string{"novalue"})
	assert.Error(t, err)
	_, err = mergeInputs(nil, []string{"=1"})
	assert.Error(t, err)
}

func TestParseRunID(t *testing.T) {
	id, err := parseRunID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseRunID(bad)
		assert.Error(t, err, bad)
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "condition=true job_type=backup", summarize(map[string]interface{}{"job_type": "backup", "condition": true}))
	assert.Equal(t, "", summarize(map[string]interface{}{}))
}

func TestPrintRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	wf := &shared.Workflow{Name: "report", IsActive: true, Nodes: []shared.Node{
		{Ref: "check", Category: shared.CategoryLogic, Type: shared.NodeTypeCondition, Config: map[string]interface{}{"expression": "false"}},
		{Ref: "mail", Category: shared.CategoryNotification, Type: "email", OrderIndex: 1, Config: map[string]interface{}{"message": "hi"}},
	}, Edges: []shared.Edge{{SourceRef: "check", TargetRef: "mail", Label: "true"}}}
	require.NoError(t, st.SaveWorkflow(ctx, wf))
	run := &shared.Run{WorkflowID: wf.ID}
	require.NoError(t, st.CreateRun(ctx, run))

	result, err := workflow.NewExecutor(st, nil, zap.NewNop(), workflow.ExecutorOptions{}).Execute(ctx, run.ID)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printRun(ctx, &out, st, result))
	text := out.String()
	assert.Contains(t, text, "status partial")
	assert.Contains(t, text, "condition=false")
	assert.Contains(t, text, "[mail] Node skipped: not reached")

	out.Reset()
	require.NoError(t, writeLogsJSON(ctx, &out, st, run.ID))
	assert.Contains(t, out.String(), `"message":"Run started"`)
}
