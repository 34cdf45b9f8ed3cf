// Package alerts defines the alert definition, typed state schema, and
// per-evaluation result types shared by the worker and the flusher.
package alerts

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrSchemaMismatch is returned when a state's key set does not match the
// field names declared by the alert definition. Callers must reject the
// evaluation rather than persist malformed state.
var ErrSchemaMismatch = errors.New("state does not match schema")

// StateFieldType enumerates the only types an alert state can contain.
type StateFieldType string

const (
	FieldSentimentScore   StateFieldType = "sentiment_score"   // float -1 to 1
	FieldCategory         StateFieldType = "category"          // string from allowed list
	FieldCounter          StateFieldType = "counter"           // int, starts at 0
	FieldTimestamp        StateFieldType = "timestamp"         // ISO datetime string or null
	FieldTextSnapshot     StateFieldType = "text_snapshot"     // string, stores last seen text
	FieldBooleanFlag      StateFieldType = "boolean_flag"      // bool
	FieldNumericThreshold StateFieldType = "numeric_threshold" // float, for comparisons
	FieldStringList       StateFieldType = "string_list"       // []string, bounded size
)

// MaxStringListItems is the upper bound for a string_list field's max_items.
const MaxStringListItems = 50

// DefaultMaxItems is used for string_list fields that don't set max_items.
const DefaultMaxItems = 10

var fieldNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// State is an alert's mutable state: field name to value.
// Values are only ever checked for key-set conformance, never for
// type/range conformance against the declared field type.
type State map[string]any

// StateFieldSchema describes one field in an alert's state.
type StateFieldSchema struct {
	Name          string         `json:"name"`
	FieldType     StateFieldType `json:"field_type"`
	Description   string         `json:"description"`
	AllowedValues []string       `json:"allowed_values,omitempty"` // for category fields
	MaxItems      int            `json:"max_items,omitempty"`      // for string_list fields
}

// DefaultValue returns the appropriate default for this field's type.
func (f StateFieldSchema) DefaultValue() any {
	switch f.FieldType {
	case FieldSentimentScore, FieldNumericThreshold:
		return 0.0
	case FieldCounter:
		return 0
	case FieldBooleanFlag:
		return false
	case FieldStringList:
		return []string{}
	default:
		// category, timestamp, text_snapshot default to null
		return nil
	}
}

// Validate checks the field schema's structural constraints.
func (f StateFieldSchema) Validate() error {
	if !fieldNamePattern.MatchString(f.Name) {
		return fmt.Errorf("field name %q must match %s", f.Name, fieldNamePattern)
	}
	if len(f.Name) > 32 {
		return fmt.Errorf("field name %q exceeds 32 characters", f.Name)
	}
	if f.MaxItems > MaxStringListItems {
		return fmt.Errorf("field %q max_items %d exceeds limit %d", f.Name, f.MaxItems, MaxStringListItems)
	}
	return nil
}

// AlertDefinition is the immutable rule a tenant configured: instructions
// for the evaluation agent, a typed state schema, and a trigger condition.
// Field order carries no meaning; the field name set does.
type AlertDefinition struct {
	UserPrompt       string             `json:"user_prompt"`
	ProcessedPrompt  string             `json:"processed_prompt"`
	StateSchema      []StateFieldSchema `json:"state_schema"`
	TriggerCondition string             `json:"trigger_condition"`
}

// Validate checks that the definition is well formed: every field schema
// is valid and field names are unique.
func (d *AlertDefinition) Validate() error {
	if len(d.StateSchema) == 0 {
		return fmt.Errorf("state schema cannot be empty")
	}
	seen := make(map[string]bool, len(d.StateSchema))
	for _, f := range d.StateSchema {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// InitialState generates the starting state: every field at its type default.
func (d *AlertDefinition) InitialState() State {
	state := make(State, len(d.StateSchema))
	for _, f := range d.StateSchema {
		state[f.Name] = f.DefaultValue()
	}
	return state
}

// ValidateState reports whether the state's key set exactly equals the
// schema's field name set. Values are deliberately not type-checked.
func (d *AlertDefinition) ValidateState(state State) bool {
	if len(state) != len(d.StateSchema) {
		return false
	}
	for _, f := range d.StateSchema {
		if _, ok := state[f.Name]; !ok {
			return false
		}
	}
	return true
}

// StoredAlert is an alert record as persisted in the user_alerts table.
// current_state is read-only to the worker; only the flusher overwrites it.
type StoredAlert struct {
	AlertID      string          `json:"alert_id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id"`
	Definition   AlertDefinition `json:"alert_definition"`
	CurrentState State           `json:"current_state"`
	IsActive     bool            `json:"is_active"`
}

// ProcessingResult is the outcome of evaluating one communication against
// one alert.
type ProcessingResult struct {
	ShouldAlert  bool   `json:"should_alert"`
	AlertReason  string `json:"alert_reason,omitempty"`
	UpdatedState State  `json:"updated_state"`
}
