package environment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spachava753/deskbench/internal/control"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/models"
)

type guestState struct {
	files    map[string][]byte
	executed []string
	launched []string
}

func startGuest(t *testing.T) (*httptest.Server, *guestState) {
	t.Helper()
	state := &guestState{files: map[string][]byte{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/screenshot", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PNG"))
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Command any `json:"command"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		switch cmd := payload.Command.(type) {
		case string:
			state.executed = append(state.executed, cmd)
		case []any:
			if len(cmd) == 3 {
				state.executed = append(state.executed, cmd[2].(string))
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "returncode": 0})
	})
	mux.HandleFunc("/setup/launch", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Command string `json:"command"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		state.launched = append(state.launched, payload.Command)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/setup/upload", func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		f, _, err := r.FormFile("file_data")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		state.files[r.FormValue("file_path")] = data
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, state
}

func TestObserve(t *testing.T) {
	srv, _ := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	obs, err := inst.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if string(obs.Screenshot) != "PNG" {
		t.Errorf("expected PNG bytes, got %q", obs.Screenshot)
	}
	if obs.CapturedAt.IsZero() {
		t.Error("expected capture timestamp")
	}
}

func TestActCommand(t *testing.T) {
	srv, state := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	result, err := inst.Act(context.Background(), models.Action{
		Type:    models.ActionCommand,
		Payload: "pyautogui.click(5, 5)",
	})
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if !result.OK {
		t.Errorf("expected OK, got %+v", result)
	}
	if len(state.executed) != 1 || state.executed[0] != "pyautogui.click(5, 5)" {
		t.Errorf("command payload not forwarded: %v", state.executed)
	}
}

func TestActSignalsSkipGuest(t *testing.T) {
	srv, state := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	for _, typ := range []string{models.ActionDone, models.ActionFail} {
		result, err := inst.Act(context.Background(), models.Action{Type: typ})
		if err != nil {
			t.Fatalf("Act(%s) failed: %v", typ, err)
		}
		if !result.OK {
			t.Errorf("Act(%s): expected OK", typ)
		}
	}
	if len(state.executed) != 0 {
		t.Errorf("terminal signals must not reach the guest: %v", state.executed)
	}
}

func TestActWaitHonorsPause(t *testing.T) {
	srv, _ := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 30*time.Millisecond)

	start := time.Now()
	if _, err := inst.Act(context.Background(), models.Action{Type: models.ActionWait}); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("wait returned after %s, expected at least the pause", elapsed)
	}
}

func TestActUnknownType(t *testing.T) {
	srv, _ := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	if _, err := inst.Act(context.Background(), models.Action{Type: "teleport"}); err == nil {
		t.Error("expected error for unknown action type, got nil")
	}
}

func TestApplySetup(t *testing.T) {
	srv, state := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	// Host-side file server standing in for a task asset URL.
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset-bytes"))
	}))
	defer assets.Close()

	steps := []models.SetupStep{
		{Type: "execute", Parameters: map[string]any{"command": "mkdir -p /tmp/work"}},
		{Type: "launch", Parameters: map[string]any{"command": "google-chrome"}},
		{Type: "download", Parameters: map[string]any{"url": assets.URL, "path": "/tmp/work/in.bin"}},
		{Type: "sleep", Parameters: map[string]any{"seconds": 0.01}},
	}

	if err := inst.ApplySetup(context.Background(), steps); err != nil {
		t.Fatalf("ApplySetup failed: %v", err)
	}

	if len(state.executed) != 1 || state.executed[0] != "mkdir -p /tmp/work" {
		t.Errorf("execute step not applied: %v", state.executed)
	}
	if len(state.launched) != 1 || state.launched[0] != "google-chrome" {
		t.Errorf("launch step not applied: %v", state.launched)
	}
	if string(state.files["/tmp/work/in.bin"]) != "asset-bytes" {
		t.Errorf("download step not applied: %q", state.files["/tmp/work/in.bin"])
	}
}

func TestApplySetupFailureIdentifiesStep(t *testing.T) {
	srv, _ := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	steps := []models.SetupStep{
		{Type: "execute", Parameters: map[string]any{"command": "true"}},
		{Type: "execute", Parameters: map[string]any{}}, // missing command
	}

	err := inst.ApplySetup(context.Background(), steps)
	if err == nil {
		t.Fatal("expected setup failure, got nil")
	}
}

func TestHandleInstanceGating(t *testing.T) {
	srv, _ := startGuest(t)
	inst := environment.NewGuestInstance(control.NewClientURL(srv.URL), 0)

	h := environment.NewHandle(models.EnvironmentHandle{
		ID:    "env-1",
		State: models.StateProvisioning,
	}, inst)

	if _, err := h.Instance(); err == nil {
		t.Error("expected ErrNotReady before the environment is ready")
	}

	h.State = models.StateReady
	if _, err := h.Instance(); err != nil {
		t.Errorf("expected instance once ready, got %v", err)
	}

	if _, _, err := environment.AddressOf(h); err != nil {
		t.Errorf("expected address once ready, got %v", err)
	}

	h.State = models.StateTerminated
	if _, _, err := environment.AddressOf(h); err == nil {
		t.Error("expected ErrNotReady after termination")
	}
}
