package harness

// TraceEvent is one entry of a scenario trace. Fetches made by the sync
// client travel through the worker and appear as fetch events of their own.
type TraceEvent struct {
	Seq        int64    `json:"seq"`
	Type       string   `json:"type"`
	Method     string   `json:"method,omitempty"`
	URL        string   `json:"url,omitempty"`
	Route      string   `json:"route,omitempty"`
	Source     string   `json:"source,omitempty"`
	Status     int      `json:"status,omitempty"`
	Failure    string   `json:"failure,omitempty"`
	Message    string   `json:"message,omitempty"`
	Online     *bool    `json:"online,omitempty"`
	Generation string   `json:"generation,omitempty"`
	Cached     []string `json:"cached,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Activated  string   `json:"activated,omitempty"`
	Pruned     []string `json:"pruned,omitempty"`
	Retried    bool     `json:"retried,omitempty"`
	Outcome    string   `json:"outcome,omitempty"`
	Pending    *bool    `json:"pending,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every dispatched event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
