package models

import "time"

// Action signal values. Anything else in Action.Type is rejected by the
// instance; command payloads are opaque to the orchestrator.
const (
	ActionCommand = "command"
	ActionDone    = "done"
	ActionFail    = "fail"
	ActionWait    = "wait"
)

// Action is one agent decision. For ActionCommand the Payload is an opaque
// script injected into the guest; the orchestrator only sequences and times
// it.
type Action struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// Terminal reports whether this action ends the agent loop.
func (a Action) Terminal() bool {
	return a.Type == ActionDone || a.Type == ActionFail
}

// Observation is one capture of guest screen state.
type Observation struct {
	// Screenshot holds raw PNG bytes as served by the guest control server.
	Screenshot []byte `json:"-"`

	// A11yTree is optional accessibility metadata, empty when not requested.
	A11yTree string `json:"-"`

	CapturedAt time.Time `json:"captured_at"`
}

// ActResult reports the outcome of injecting one action.
type ActResult struct {
	OK      bool          `json:"ok"`
	Output  string        `json:"output,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// StepRecord is one observation+action pair in a task run. Records are
// append-only and strictly ordered by Index within a run.
type StepRecord struct {
	Index          int       `json:"index"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	Action         Action    `json:"action"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	Timestamp      time.Time `json:"timestamp"`
}
