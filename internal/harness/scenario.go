package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hydroplante/internal/model"
)

// Scenario defines an end-to-end test scenario: a network to serve, steps
// to replay against the worker, and assertions on the resulting trace and
// store state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Origin is the application origin. Default: DefaultOrigin.
	Origin string `yaml:"origin,omitempty"`

	// RequestID is the fixed request ID attached to worker logs.
	// Default: "test-request".
	RequestID string `yaml:"request_id,omitempty"`

	// SkipWaiting makes every installed generation activate at once.
	SkipWaiting bool `yaml:"skip_waiting,omitempty"`

	// Network lists the replies served before the first step.
	Network []Resource `yaml:"network,omitempty"`

	// Remote is the initial content of the remote plant state document.
	// Empty means the document does not exist yet.
	Remote string `yaml:"remote,omitempty"`

	// Steps are replayed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Resource is one canned network reply. Relative URLs resolve against the
// scenario origin.
type Resource struct {
	URL         string `yaml:"url"`
	Status      int    `yaml:"status"`
	ContentType string `yaml:"content_type,omitempty"`
	Body        string `yaml:"body,omitempty"`
}

// Step is one action of a scenario. Exactly one action field is set.
type Step struct {
	Install      *InstallStep `yaml:"install,omitempty"`
	Activate     bool         `yaml:"activate,omitempty"`
	Message      string       `yaml:"message,omitempty"`
	Fetch        *FetchStep   `yaml:"fetch,omitempty"`
	Connectivity string       `yaml:"connectivity,omitempty"`
	Network      *NetworkStep `yaml:"network,omitempty"`
	Push         *PushStep    `yaml:"push,omitempty"`
	Restart      bool         `yaml:"restart,omitempty"`

	// Expect is checked against the step's outcome. If nil, no validation
	// is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// InstallStep installs a generation from a manifest.
type InstallStep struct {
	Generation model.Generation `yaml:"generation"`
	Manifest   model.Manifest   `yaml:"manifest"`
}

// FetchStep sends one request through the worker.
type FetchStep struct {
	Method string `yaml:"method,omitempty"`
	URL    string `yaml:"url"`
}

// NetworkStep changes the network between steps.
type NetworkStep struct {
	// Offline switches the whole network off or back on.
	Offline *bool `yaml:"offline,omitempty"`

	// Serve replaces the replies for the listed URLs.
	Serve []Resource `yaml:"serve,omitempty"`

	// Fail makes the listed URLs fail at the transport level.
	Fail []string `yaml:"fail,omitempty"`

	// Reject makes the remote document answer this status. 0 restores it.
	Reject *int `yaml:"reject,omitempty"`
}

// PushStep records a watering and pushes the plant state.
type PushStep struct {
	LastWatering     string `yaml:"last_watering,omitempty"`
	LastNotification string `yaml:"last_notification,omitempty"`
}

// ExpectClause specifies the expected outcome of a step. Only the fields
// set are checked.
type ExpectClause struct {
	Source    string  `yaml:"source,omitempty"`
	Status    int     `yaml:"status,omitempty"`
	Body      *string `yaml:"body,omitempty"`
	Activated string  `yaml:"activated,omitempty"`
	Retried   *bool   `yaml:"retried,omitempty"`
	Outcome   string  `yaml:"outcome,omitempty"`
	Pending   *bool   `yaml:"pending,omitempty"`
}

// EventMatch selects trace events by type and a subset of fields.
type EventMatch struct {
	Event  string         `yaml:"event"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event matches Event and Fields
	// - "trace_order": events match Sequence in order
	// - "trace_count": exactly Count events match Event and Fields
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	// Event is the event type (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Fields are the expected event fields. Subset match.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Sequence is the expected event order (used by trace_order).
	Sequence []EventMatch `yaml:"sequence,omitempty"`

	// Count is the expected number of matches (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no row matches Where (used by final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Origin != "" {
		if _, err := model.ParseOrigin(s.Origin); err != nil {
			return err
		}
	}

	for i, r := range s.Network {
		if r.URL == "" {
			return fmt.Errorf("network[%d]: url is required", i)
		}
		if r.Status == 0 {
			return fmt.Errorf("network[%d]: status is required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks that exactly one action is set and it is complete.
func validateStep(index int, st *Step) error {
	kinds := st.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: no action set", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one action allowed, got %s", index, strings.Join(kinds, ", "))
	}

	switch {
	case st.Install != nil:
		if st.Install.Generation == "" {
			return fmt.Errorf("steps[%d].install: generation is required", index)
		}
	case st.Fetch != nil:
		if st.Fetch.URL == "" {
			return fmt.Errorf("steps[%d].fetch: url is required", index)
		}
	case st.Connectivity != "":
		if st.Connectivity != "online" && st.Connectivity != "offline" {
			return fmt.Errorf("steps[%d]: connectivity must be online or offline, got %q", index, st.Connectivity)
		}
	}
	return nil
}

// kinds lists the action fields set on st.
func (st *Step) kinds() []string {
	var kinds []string
	if st.Install != nil {
		kinds = append(kinds, "install")
	}
	if st.Activate {
		kinds = append(kinds, "activate")
	}
	if st.Message != "" {
		kinds = append(kinds, "message")
	}
	if st.Fetch != nil {
		kinds = append(kinds, "fetch")
	}
	if st.Connectivity != "" {
		kinds = append(kinds, "connectivity")
	}
	if st.Network != nil {
		kinds = append(kinds, "network")
	}
	if st.Push != nil {
		kinds = append(kinds, "push")
	}
	if st.Restart {
		kinds = append(kinds, "restart")
	}
	return kinds
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Sequence) == 0 {
			return fmt.Errorf("assertions[%d]: sequence is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
