// Package docker provides the container-backed environment provider. Each
// environment is one container booting a desktop image whose control server
// and VNC display are published on host ports drawn from a pool.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/spachava753/deskbench/internal/config"
	"github.com/spachava753/deskbench/internal/control"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/models"
)

const (
	controlPortBase = 5000
	vncPortBase     = 8006
	portPoolSpan    = 512

	probeInterval = 3 * time.Second
)

// Provider implements the Docker environment provider.
type Provider struct {
	client *client.Client

	controlPorts *environment.PortPool
	vncPorts     *environment.PortPool

	mu    sync.Mutex
	ports map[string][2]int // container ID -> (control, vnc) host ports
}

// NewProvider creates a Docker provider using the ambient daemon config.
func NewProvider() (*Provider, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Provider{
		client:       cli,
		controlPorts: environment.NewPortPool(controlPortBase, controlPortBase+portPoolSpan),
		vncPorts:     environment.NewPortPool(vncPortBase, vncPortBase+portPoolSpan),
		ports:        map[string][2]int{},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "docker"
}

// Close releases the daemon connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Acquire creates and starts a container from the profile image, then blocks
// until the in-guest control server answers or the provisioning timeout
// elapses.
func (p *Provider) Acquire(ctx context.Context, cfg environment.AcquireConfig) (*environment.Handle, error) {
	return p.acquire(ctx, cfg, 1)
}

func (p *Provider) acquire(ctx context.Context, cfg environment.AcquireConfig, generation int) (*environment.Handle, error) {
	controlHost, err := p.controlPorts.Acquire()
	if err != nil {
		return nil, fmt.Errorf("allocating control port: %w", err)
	}
	vncHost, err := p.vncPorts.Acquire()
	if err != nil {
		p.controlPorts.Release(controlHost)
		return nil, fmt.Errorf("allocating vnc port: %w", err)
	}

	id, err := p.createContainer(ctx, cfg.Profile, controlHost, vncHost)
	if err != nil {
		p.controlPorts.Release(controlHost)
		p.vncPorts.Release(vncHost)
		return nil, err
	}

	p.mu.Lock()
	p.ports[id] = [2]int{controlHost, vncHost}
	p.mu.Unlock()

	slog.Info("container started, waiting for guest",
		"container", shortID(id),
		"control_port", controlHost,
		"vnc_port", vncHost)

	ctrl := control.NewClient("localhost", controlHost)
	if err := waitReady(ctx, ctrl, cfg.ProvisionTimeout); err != nil {
		if rmErr := p.removeContainer(context.WithoutCancel(ctx), id); rmErr != nil {
			slog.Warn("cleanup after failed boot", "container", shortID(id), "error", rmErr)
		}
		return nil, err
	}

	rec := models.EnvironmentHandle{
		ID:          id,
		Addr:        "localhost",
		ControlPort: controlHost,
		VNCPort:     vncHost,
		Generation:  generation,
		State:       models.StateReady,
	}
	return environment.NewHandle(rec, environment.NewGuestInstance(ctrl, cfg.StepPause)), nil
}

func (p *Provider) createContainer(ctx context.Context, profile config.Profile, controlHost, vncHost int) (string, error) {
	if profile.Image == "" {
		return "", fmt.Errorf("profile has no container image")
	}

	exposedPorts := make(network.PortSet)
	portBindings := make(network.PortMap)
	for hostPort, guestPort := range map[int]int{
		controlHost: profile.ControlPort,
		vncHost:     profile.VNCPort,
	} {
		port := network.MustParsePort(fmt.Sprintf("%d/tcp", guestPort))
		exposedPorts[port] = struct{}{}
		portBindings[port] = []network.PortBinding{
			{HostPort: fmt.Sprintf("%d", hostPort)},
		}
	}

	env := []string{
		fmt.Sprintf("CPU_CORES=%d", profile.CPUs),
		fmt.Sprintf("RAM_SIZE=%s", profile.Memory),
	}
	for k, v := range profile.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	devices := kvmDevices()
	if len(devices) == 0 {
		env = append(env, "KVM=N")
	}

	memoryMB, err := profile.MemoryMB()
	if err != nil {
		return "", fmt.Errorf("profile memory: %w", err)
	}

	opts := client.ContainerCreateOptions{
		Config: &container.Config{
			Image:        profile.Image,
			Env:          env,
			ExposedPorts: exposedPorts,
		},
		HostConfig: &container.HostConfig{
			PortBindings: portBindings,
			Privileged:   true,
			Resources: container.Resources{
				NanoCPUs: int64(profile.CPUs) * 1e9,
				Memory:   int64(memoryMB) * 1024 * 1024,
				Devices:  devices,
			},
		},
	}

	created, err := p.client.ContainerCreate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if _, err := p.client.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		if rmErr := p.forceRemove(context.WithoutCancel(ctx), created.ID); rmErr != nil {
			slog.Warn("cleanup after failed start", "container", shortID(created.ID), "error", rmErr)
		}
		return "", fmt.Errorf("starting container: %w", err)
	}

	return created.ID, nil
}

// Release tears down the container. Releasing an already-released handle is
// a no-op.
func (p *Provider) Release(ctx context.Context, h *environment.Handle) error {
	if h == nil || h.ID == "" {
		return nil
	}
	return p.removeContainer(ctx, h.ID)
}

func (p *Provider) removeContainer(ctx context.Context, id string) error {
	if err := p.forceRemove(ctx, id); err != nil {
		return err
	}

	p.mu.Lock()
	ports, ok := p.ports[id]
	delete(p.ports, id)
	p.mu.Unlock()
	if ok {
		p.controlPorts.Release(ports[0])
		p.vncPorts.Release(ports[1])
	}
	return nil
}

func (p *Provider) forceRemove(ctx context.Context, id string) error {
	_, err := p.client.ContainerRemove(ctx, id, client.ContainerRemoveOptions{
		Force: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Reset has no snapshot support on the container backend: it tears the
// container down and boots a replacement. The returned handle carries the
// next generation.
func (p *Provider) Reset(ctx context.Context, h *environment.Handle, cfg environment.AcquireConfig) (*environment.Handle, error) {
	next := 1
	if h != nil {
		next = h.Generation + 1
	}
	if err := p.Release(ctx, h); err != nil {
		return nil, fmt.Errorf("resetting: %w", err)
	}
	return p.acquire(ctx, cfg, next)
}

// Address returns the control address and display port of a ready handle.
func (p *Provider) Address(h *environment.Handle) (string, int, error) {
	return environment.AddressOf(h)
}

// waitReady polls the control server until it answers or the deadline hits.
func waitReady(ctx context.Context, ctrl *control.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)

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
			return fmt.Errorf("%w after %s", models.ErrProvisionTimedOut, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}

// kvmDevices exposes /dev/kvm when present so the desktop image gets
// hardware acceleration.
func kvmDevices() []container.DeviceMapping {
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return nil
	}
	return []container.DeviceMapping{{
		PathOnHost:        "/dev/kvm",
		PathInContainer:   "/dev/kvm",
		CgroupPermissions: "rwm",
	}}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
