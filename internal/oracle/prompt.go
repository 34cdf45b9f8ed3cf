package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"commwatch/internal/alerts"
)

const systemPreamble = `You are evaluating a communication for alert conditions.

You will receive:
1. A communication to analyze
2. An alert definition with task, trigger condition, state schema, and current state

You MUST respond with valid JSON:
{
  "should_alert": true/false,
  "alert_reason": "explanation if alerting, null otherwise",
  "updated_state": { ... complete state object with any updates ... }
}

Rules:
- The updated_state MUST contain exactly the same keys as the current state
- Preserve values that haven't changed
- Only modify what's relevant to this message
- Set should_alert to true only when the trigger condition is met`

// buildMessages builds the conversation for the evaluation agent.
// The system prompt and communication come first and are identical across
// all of a tenant's alerts for one communication, so the service can
// prefix-cache them; the alert-specific context comes last.
func buildMessages(def *alerts.AlertDefinition, currentState alerts.State, communication string) ([]message, error) {
	stateJSON, err := json.MarshalIndent(currentState, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal current state: %w", err)
	}

	var fields strings.Builder
	for _, f := range def.StateSchema {
		fmt.Fprintf(&fields, "  - %s (%s): %s\n", f.Name, f.FieldType, f.Description)
	}

	alertContext := fmt.Sprintf(
		"ALERT TASK: %s\n\nTRIGGER WHEN: %s\n\nSTATE FIELDS:\n%s\nCURRENT STATE:\n%s\n\n"+
			"Evaluate the communication above against this alert and respond with JSON.",
		def.ProcessedPrompt, def.TriggerCondition, fields.String(), stateJSON,
	)

	return []message{
		{Role: "system", Content: systemPreamble},
		{Role: "user", Content: "<communication>\n" + communication + "\n</communication>"},
		{Role: "user", Content: alertContext},
	}, nil
}
