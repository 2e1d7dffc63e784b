package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/deskbench/internal/catalog"
)

func writeTask(t *testing.T, root, domain, name, content string) {
	t.Helper()
	dir := filepath.Join(root, domain)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating domain dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing task file: %v", err)
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "bookmark.json", `{
  "instruction": "Bookmark the current page",
  "setup": [{"type": "launch", "parameters": {"command": "google-chrome"}}],
  "checker": {"type": "always_true"},
  "max_steps": 20
}`)
	writeTask(t, root, "chrome", "clear-history.json", `{
  "id": "clear-history",
  "domain": "chrome",
  "instruction": "Clear browsing history",
  "checker": {"type": "infeasible"}
}`)
	writeTask(t, root, "gimp", "crop.json", `{
  "instruction": "Crop the image to 100x100",
  "checker": {
    "conj": "and",
    "checkers": [
      {"type": "always_true"},
      {"type": "process_running", "parameters": {"name": "gimp"}}
    ]
  }
}`)

	cat, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cat.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(cat.Tasks))
	}
	if len(cat.Domains) != 2 {
		t.Errorf("expected 2 domains, got %v", cat.Domains)
	}

	// ID defaults to the filename.
	tasks := cat.Filter("chrome", 0)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 chrome tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "bookmark" {
		t.Errorf("expected id from filename, got %s", tasks[0].ID)
	}
	if tasks[0].MaxSteps != 20 {
		t.Errorf("expected max_steps 20, got %d", tasks[0].MaxSteps)
	}

	if got := cat.Filter("", 2); len(got) != 2 {
		t.Errorf("expected max_tasks to cap at 2, got %d", len(got))
	}
}

func TestLoadRejectsUnknownChecker(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "bad.json", `{
  "instruction": "whatever",
  "checker": {"type": "mystery"}
}`)

	if _, err := catalog.Load(root); err == nil {
		t.Error("expected unknown checker to fail the load, got nil")
	}
}

func TestLoadRejectsUnknownSetupStep(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "bad.json", `{
  "instruction": "whatever",
  "setup": [{"type": "teleport"}],
  "checker": {"type": "always_true"}
}`)

	if _, err := catalog.Load(root); err == nil {
		t.Error("expected unknown setup step to fail the load, got nil")
	}
}

func TestLoadRejectsMissingInstruction(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "bad.json", `{"checker": {"type": "always_true"}}`)

	if _, err := catalog.Load(root); err == nil {
		t.Error("expected missing instruction to fail the load, got nil")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "a.json", `{
  "id": "same",
  "instruction": "first",
  "checker": {"type": "always_true"}
}`)
	writeTask(t, root, "chrome", "b.json", `{
  "id": "same",
  "instruction": "second",
  "checker": {"type": "always_true"}
}`)

	if _, err := catalog.Load(root); err == nil {
		t.Error("expected duplicate ids to fail the load, got nil")
	}
}

func TestLoadRejectsDomainMismatch(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, "chrome", "bad.json", `{
  "domain": "gimp",
  "instruction": "whatever",
  "checker": {"type": "always_true"}
}`)

	if _, err := catalog.Load(root); err == nil {
		t.Error("expected domain mismatch to fail the load, got nil")
	}
}

func TestLoadEmptyCatalog(t *testing.T) {
	if _, err := catalog.Load(t.TempDir()); err == nil {
		t.Error("expected empty catalog to fail the load, got nil")
	}
}
