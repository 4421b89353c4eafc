package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Request is the orchestrator request in short form, for reads and writes.
	Request string `json:"request,omitempty"`

	// ClockMs is the clock value after the step ran.
	ClockMs int64 `json:"clock_ms"`

	Exists    bool           `json:"exists,omitempty"`
	Connected bool           `json:"connected,omitempty"`
	IDs       []string       `json:"ids,omitempty"`
	Record    map[string]any `json:"record,omitempty"`

	// Error is the offline error code, or the error text for other failures.
	Error string `json:"error,omitempty"`

	// Enqueued reports that a failed write was appended to the journal.
	Enqueued bool `json:"enqueued,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step matched its expectation
	// and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
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

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
