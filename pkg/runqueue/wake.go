package runqueue

import (
	"context"
	"encoding/json"
	"log/slog"
)

// wakeParentRunIfWaiting implements _wake_parent_run_if_waiting (spec.md
// §4.14): a child run_code_snippet completing re-queues its parent only if
// the parent is still parked in WAIT_CHILD for this specific child.
func (q *Queue) wakeParentRunIfWaiting(ctx context.Context, child *Run) error {
	parentID := parentRunID(child)
	if parentID == "" {
		return nil
	}

	parent, err := q.Runs.Get(ctx, parentID)
	if err != nil {
		return err
	}

	output := map[string]any{}
	if len(parent.Output) > 0 {
		if err := json.Unmarshal(parent.Output, &output); err != nil {
			slog.Warn("parent run output_json is not an object, skipping wake", "parent_run_id", parentID, "child_run_id", child.ID)
			return nil
		}
	}

	state, _ := output["state"].(string)
	waitingChildRunID, _ := output["waiting_child_run_id"].(string)
	if state != waitChildState || waitingChildRunID != child.ID {
		// Not waiting on this child: idempotent no-op.
		return nil
	}

	input := map[string]any{}
	if len(parent.Input) > 0 {
		if err := json.Unmarshal(parent.Input, &input); err != nil {
			input = map[string]any{}
		}
	}

	stepIndex := 0
	if si, ok := waitingStepIndex(output); ok {
		stepIndex = si
	}
	runIDs, _ := output["run_ids"].([]any)

	input["step_index"] = stepIndex + 1
	input["previous_output_json"] = previewOutput(child.Output)
	input["run_ids"] = append(append([]any{}, runIDs...), child.ID)

	for _, k := range waitKeys {
		delete(output, k)
	}
	var newOutput json.RawMessage
	if len(output) == 0 {
		newOutput = nil
	} else {
		b, err := json.Marshal(output)
		if err != nil {
			return err
		}
		newOutput = b
	}

	newInput, err := json.Marshal(input)
	if err != nil {
		return err
	}

	parent.Input = newInput
	parent.Output = newOutput
	parent.Status = StatusQueued
	parent.WorkerID = nil
	parent.LeaseExpiresAt = nil
	parent.UpdatedAt = q.Now()

	return q.Runs.update(ctx, parent)
}

func waitingStepIndex(output map[string]any) (int, bool) {
	v, ok := output["waiting_step_index"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// previewOutput builds the previous_output_json preview handed to a parent
// run, mirroring _cap_previous_output_for_input: prefer result["observation"]
// (first 5 keys if it's itself an object), else result, else the first 3
// keys of output_json, then cap the marshaled preview to
// previousOutputCapBytes bytes.
func previewOutput(output json.RawMessage) any {
	if len(output) == 0 {
		return nil
	}
	var full map[string]any
	if err := json.Unmarshal(output, &full); err != nil {
		return string(output)
	}

	preview := map[string]any{}

	result, _ := full["result"].(map[string]any)
	if result != nil {
		if obs, ok := result["observation"]; ok && obs != nil {
			if obsMap, ok := obs.(map[string]any); ok {
				preview["observation"] = firstNKeys(obsMap, 5)
			} else {
				preview["observation"] = obs
			}
		}
	}
	if len(preview) == 0 && len(result) > 0 {
		preview["result"] = result
	}
	if len(preview) == 0 {
		preview = firstNKeys(full, 3)
	}

	raw, err := json.Marshal(preview)
	if err != nil {
		return preview
	}
	if len(raw) <= previousOutputCapBytes {
		return preview
	}
	return map[string]any{
		"_truncated":    true,
		"preview_bytes": len(raw),
	}
}

// firstNKeys returns a map holding up to n arbitrary key/value pairs from m.
// Go map iteration order is randomized, so unlike the dict-ordered original
// this is an arbitrary small sample rather than an insertion-ordered prefix.
func firstNKeys(m map[string]any, n int) map[string]any {
	out := make(map[string]any, n)
	i := 0
	for k, v := range m {
		if i >= n {
			break
		}
		out[k] = v
		i++
	}
	return out
}

func parentRunID(run *Run) string {
	if run.ParentRunID != nil && *run.ParentRunID != "" {
		return *run.ParentRunID
	}
	return extractField(run.Input, "parent_run_id")
}
