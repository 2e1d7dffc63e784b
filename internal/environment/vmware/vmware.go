// Package vmware provides the VM-backed environment provider on top of the
// vmrun control tool. Unlike the container backend it supports true in-place
// resets by reverting to a named snapshot.
package vmware

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spachava753/deskbench/internal/control"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/models"
)

const probeInterval = 3 * time.Second

// Provider implements the VMware environment provider. Each acquire makes a
// linked clone of the profile's source VM so parallel environments stay
// isolated.
type Provider struct {
	// CloneDir holds per-acquire linked clones. Defaults to a temp dir.
	cloneDir string

	mu     sync.Mutex
	serial int
}

// NewProvider creates a VMware provider. Clones are placed under cloneDir;
// pass "" for a run-scoped temp directory.
func NewProvider(cloneDir string) (*Provider, error) {
	if _, err := exec.LookPath("vmrun"); err != nil {
		return nil, fmt.Errorf("vmrun not found: %w", err)
	}
	if cloneDir == "" {
		cloneDir = filepath.Join(os.TempDir(), fmt.Sprintf("deskbench-vms-%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(cloneDir, 0755); err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}
	return &Provider{cloneDir: cloneDir}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "vmware"
}

// Acquire clones the profile VM, boots it, and waits for the guest control
// server.
func (p *Provider) Acquire(ctx context.Context, cfg environment.AcquireConfig) (*environment.Handle, error) {
	return p.acquire(ctx, cfg, 1)
}

func (p *Provider) acquire(ctx context.Context, cfg environment.AcquireConfig, generation int) (*environment.Handle, error) {
	profile := cfg.Profile
	if profile.VMPath == "" {
		return nil, fmt.Errorf("profile has no vm_path")
	}
	if profile.Snapshot == "" {
		return nil, fmt.Errorf("profile has no snapshot (required for cloning and reset)")
	}

	p.mu.Lock()
	p.serial++
	n := p.serial
	p.mu.Unlock()

	clonePath := filepath.Join(p.cloneDir, fmt.Sprintf("env-%d", n), filepath.Base(profile.VMPath))
	if err := os.MkdirAll(filepath.Dir(clonePath), 0755); err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}

	if _, err := p.vmrun(ctx, "clone", profile.VMPath, clonePath, "linked",
		"-snapshot="+profile.Snapshot); err != nil {
		return nil, fmt.Errorf("cloning vm: %w", err)
	}

	h, err := p.boot(ctx, cfg, clonePath, generation)
	if err != nil {
		p.destroy(context.WithoutCancel(ctx), clonePath)
		return nil, err
	}
	return h, nil
}

func (p *Provider) boot(ctx context.Context, cfg environment.AcquireConfig, vmx string, generation int) (*environment.Handle, error) {
	guiMode := "nogui"
	if !cfg.Profile.Headless {
		guiMode = "gui"
	}
	if _, err := p.vmrun(ctx, "start", vmx, guiMode); err != nil {
		return nil, fmt.Errorf("starting vm: %w", err)
	}

	timeout := cfg.ProvisionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	ip, err := p.guestIP(ctx, vmx, deadline)
	if err != nil {
		return nil, err
	}

	slog.Info("vm booted, waiting for guest",
		"vmx", filepath.Base(vmx),
		"ip", ip)

	ctrl := control.NewClient(ip, cfg.Profile.ControlPort)
	if err := waitReady(ctx, ctrl, deadline); err != nil {
		return nil, err
	}

	rec := models.EnvironmentHandle{
		ID:          vmx,
		Addr:        ip,
		ControlPort: cfg.Profile.ControlPort,
		VNCPort:     cfg.Profile.VNCPort,
		Generation:  generation,
		State:       models.StateReady,
	}
	return environment.NewHandle(rec, environment.NewGuestInstance(ctrl, cfg.StepPause)), nil
}

// guestIP polls vmrun until the guest reports an address.
func (p *Provider) guestIP(ctx context.Context, vmx string, deadline time.Time) (string, error) {
	for {
		out, err := p.vmrun(ctx, "getGuestIPAddress", vmx, "-wait")
		if err == nil {
			ip := strings.TrimSpace(out)
			if ip != "" && !strings.HasPrefix(ip, "unknown") {
				return ip, nil
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no guest ip", models.ErrProvisionTimedOut)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}

// Release powers the clone off and deletes it. Idempotent.
func (p *Provider) Release(ctx context.Context, h *environment.Handle) error {
	if h == nil || h.ID == "" {
		return nil
	}
	return p.destroy(ctx, h.ID)
}

func (p *Provider) destroy(ctx context.Context, vmx string) error {
	if _, err := os.Stat(vmx); os.IsNotExist(err) {
		return nil
	}
	if _, err := p.vmrun(ctx, "stop", vmx, "hard"); err != nil {
		// Already powered off is fine; deleteVM will catch real faults.
		slog.Debug("vm stop", "vmx", filepath.Base(vmx), "error", err)
	}
	if _, err := p.vmrun(ctx, "deleteVM", vmx); err != nil {
		return fmt.Errorf("deleting vm: %w", err)
	}
	os.RemoveAll(filepath.Dir(vmx))
	return nil
}

// Reset reverts the clone to its snapshot and reboots it, keeping the same
// backing files. The returned handle carries the next generation.
func (p *Provider) Reset(ctx context.Context, h *environment.Handle, cfg environment.AcquireConfig) (*environment.Handle, error) {
	if h == nil || h.ID == "" {
		return p.Acquire(ctx, cfg)
	}
	next := h.Generation + 1

	if _, err := p.vmrun(ctx, "stop", h.ID, "hard"); err != nil {
		slog.Debug("vm stop before revert", "vmx", filepath.Base(h.ID), "error", err)
	}
	if _, err := p.vmrun(ctx, "revertToSnapshot", h.ID, cfg.Profile.Snapshot); err != nil {
		return nil, fmt.Errorf("reverting snapshot: %w", err)
	}

	return p.boot(ctx, cfg, h.ID, next)
}

// Address returns the control address and display port of a ready handle.
func (p *Provider) Address(h *environment.Handle) (string, int, error) {
	return environment.AddressOf(h)
}

func (p *Provider) vmrun(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "vmrun", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("vmrun %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}

func waitReady(ctx context.Context, ctrl *control.Client, deadline time.Time) error {
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := ctrl.Probe(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: control server not answering", models.ErrProvisionTimedOut)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}
