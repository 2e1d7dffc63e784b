// Package environment defines the contract between the scheduler and the
// virtualization backends that materialize isolated desktop machines.
package environment

import (
	"context"
	"time"

	"github.com/spachava753/deskbench/internal/config"
	"github.com/spachava753/deskbench/internal/models"
)

// Handle pairs the scheduler-owned lifecycle record with the capability
// surface of the running machine. The Instance is only valid while the
// handle's generation matches the slot's current generation.
type Handle struct {
	models.EnvironmentHandle

	inst Instance
}

// NewHandle binds an instance to a fresh lifecycle record. Providers call
// this once the backend reports ready.
func NewHandle(rec models.EnvironmentHandle, inst Instance) *Handle {
	return &Handle{EnvironmentHandle: rec, inst: inst}
}

// Instance returns the machine's capability surface. Fails with ErrNotReady
// until acquire has completed.
func (h *Handle) Instance() (Instance, error) {
	if h == nil || h.inst == nil {
		return nil, models.ErrNotReady
	}
	switch h.State {
	case models.StateReady, models.StateBusy:
		return h.inst, nil
	default:
		return nil, models.ErrNotReady
	}
}

// AcquireConfig is the request a provider materializes an environment from.
type AcquireConfig struct {
	Profile config.Profile

	// ProvisionTimeout bounds boot plus control-server handshake; exceeding
	// it fails the acquire with ErrProvisionTimedOut.
	ProvisionTimeout time.Duration

	// StepPause is the settle delay the instance applies after each injected
	// action.
	StepPause time.Duration
}

// Provider abstracts how a single isolated desktop machine is obtained,
// addressed, reset, and torn down. Implementations must serialize access to
// their shared resource pool (host port allocation) but may run operations
// on distinct handles concurrently.
type Provider interface {
	// Name returns the backend name (e.g. "docker", "vmware").
	Name() string

	// Acquire requests a fresh isolated machine matching the profile and
	// blocks until it reports ready or the provisioning timeout elapses.
	Acquire(ctx context.Context, cfg AcquireConfig) (*Handle, error)

	// Release tears down the backing resource. Idempotent: releasing an
	// already-released handle is a no-op.
	Release(ctx context.Context, h *Handle) error

	// Reset restores the machine to a clean state. Backends without
	// snapshot support implement it as Release followed by Acquire. The
	// returned handle carries an incremented generation; the caller must
	// discard the old one.
	Reset(ctx context.Context, h *Handle, cfg AcquireConfig) (*Handle, error)

	// Address returns the machine's network coordinates (control address
	// and display port). Fails with ErrNotReady before acquire completes.
	Address(h *Handle) (string, int, error)
}

// AddressOf implements the common Address contract over the handle record.
// Backends delegate to it.
func AddressOf(h *Handle) (string, int, error) {
	if h == nil {
		return "", 0, models.ErrNotReady
	}
	switch h.State {
	case models.StateReady, models.StateBusy:
		return h.Addr, h.VNCPort, nil
	default:
		return "", 0, models.ErrNotReady
	}
}
