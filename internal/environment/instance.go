package environment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spachava753/deskbench/internal/control"
	"github.com/spachava753/deskbench/internal/models"
)

// Instance is the capability surface of a ready environment.
type Instance interface {
	// Observe captures current screen state. Must not mutate the guest.
	Observe(ctx context.Context) (*models.Observation, error)

	// Act injects one agent-issued action. The payload is opaque; only
	// sequencing and timing happen here.
	Act(ctx context.Context, action models.Action) (*models.ActResult, error)

	// ApplySetup runs a task's setup steps. A failure here is an
	// infrastructure fault, not an agent shortcoming.
	ApplySetup(ctx context.Context, steps []models.SetupStep) error

	// Control exposes the guest control client for read-only inspection by
	// checkers.
	Control() *control.Client
}

// guestInstance drives a desktop machine through its control server. Both
// backends produce these; they differ only in provisioning.
type guestInstance struct {
	client *control.Client
	pause  time.Duration
}

// NewGuestInstance wraps a control client as an Instance. pause is the
// settle delay applied after each injected action.
func NewGuestInstance(client *control.Client, pause time.Duration) Instance {
	return &guestInstance{client: client, pause: pause}
}

func (g *guestInstance) Control() *control.Client {
	return g.client
}

func (g *guestInstance) Observe(ctx context.Context) (*models.Observation, error) {
	shot, err := g.client.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("observing: %w", err)
	}
	return &models.Observation{
		Screenshot: shot,
		CapturedAt: time.Now(),
	}, nil
}

func (g *guestInstance) Act(ctx context.Context, action models.Action) (*models.ActResult, error) {
	start := time.Now()

	switch action.Type {
	case models.ActionDone, models.ActionFail:
		// Terminal signals reach the step loop, not the guest.
		return &models.ActResult{OK: true, Elapsed: time.Since(start)}, nil
	case models.ActionWait:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pause):
		}
		return &models.ActResult{OK: true, Elapsed: time.Since(start)}, nil
	case models.ActionCommand:
		result, err := g.client.ExecutePython(ctx, action.Payload)
		if err != nil {
			return nil, fmt.Errorf("acting: %w", err)
		}
		if g.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.pause):
			}
		}
		return &models.ActResult{
			OK:      result.OK(),
			Output:  result.Output,
			Elapsed: time.Since(start),
		}, nil
	default:
		return nil, fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func (g *guestInstance) ApplySetup(ctx context.Context, steps []models.SetupStep) error {
	for i, step := range steps {
		slog.Debug("applying setup step",
			"index", i,
			"type", step.Type)

		if err := g.applyStep(ctx, step); err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i+1, step.Type, err)
		}
	}
	return nil
}

func (g *guestInstance) applyStep(ctx context.Context, step models.SetupStep) error {
	switch step.Type {
	case "execute":
		command, _ := step.Parameters["command"].(string)
		if command == "" {
			return fmt.Errorf("missing command parameter")
		}
		result, err := g.client.Execute(ctx, command)
		if err != nil {
			return err
		}
		if !result.OK() {
			return fmt.Errorf("command exited %d: %s", result.ReturnCode, result.Error)
		}
		return nil

	case "launch":
		command, _ := step.Parameters["command"].(string)
		if command == "" {
			return fmt.Errorf("missing command parameter")
		}
		return g.client.Launch(ctx, command)

	case "download":
		url, _ := step.Parameters["url"].(string)
		path, _ := step.Parameters["path"].(string)
		if url == "" || path == "" {
			return fmt.Errorf("missing url or path parameter")
		}
		content, err := fetch(ctx, url)
		if err != nil {
			return err
		}
		return g.client.Upload(ctx, path, content)

	case "sleep":
		seconds, _ := step.Parameters["seconds"].(float64)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(seconds * float64(time.Second))):
		}
		return nil

	default:
		return fmt.Errorf("unknown setup step type: %s", step.Type)
	}
}

// fetch downloads url on the host side; the bytes are then pushed into the
// guest so tasks work even when the guest has no outbound network.
func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
