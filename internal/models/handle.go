package models

// LifecycleState tracks where an environment handle is in its life.
type LifecycleState string

const (
	StateProvisioning LifecycleState = "provisioning"
	StateReady        LifecycleState = "ready"
	StateBusy         LifecycleState = "busy"
	StateResetting    LifecycleState = "resetting"
	StateTerminated   LifecycleState = "terminated"
)

// EnvironmentHandle is the scheduler's record of one live backend resource.
// The scheduler is the single writer of State and Generation; the step loop
// borrows a handle for exactly one task and must not retain it afterwards.
type EnvironmentHandle struct {
	// ID is the backend's opaque resource identifier (container ID, VMX path).
	ID string `json:"id"`

	// Addr is the host reachable address of the guest control server.
	Addr string `json:"addr"`

	// ControlPort is the in-guest control server's exposed host port.
	ControlPort int `json:"control_port"`

	// VNCPort is the exposed display-access port.
	VNCPort int `json:"vnc_port"`

	// Generation increases on every reset so stale references to a prior
	// lifetime of the same slot can be detected.
	Generation int `json:"generation"`

	State LifecycleState `json:"state"`
}
