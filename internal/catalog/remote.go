package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spachava753/deskbench/internal/models"
)

// FetchAndLoad clones a catalog git repository into a temp directory and
// loads it. URLs may pin a revision with a trailing "#<ref>".
func FetchAndLoad(ctx context.Context, gitURL string) (*models.Catalog, error) {
	url, ref := splitRef(gitURL)

	baseDir := filepath.Join(os.TempDir(), fmt.Sprintf("deskbench-catalog-%d", time.Now().Unix()))
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}

	slog.Info("fetching remote catalog", "url", url, "ref", ref)

	cloneArgs := []string{"clone", "--depth", "1"}
	if ref != "" {
		cloneArgs = append(cloneArgs, "--branch", ref)
	}
	cloneArgs = append(cloneArgs, url, baseDir)

	cmd := exec.CommandContext(ctx, "git", cloneArgs...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("cloning catalog: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return Load(baseDir)
}

func splitRef(gitURL string) (url, ref string) {
	if i := strings.LastIndex(gitURL, "#"); i >= 0 {
		return gitURL[:i], gitURL[i+1:]
	}
	return gitURL, ""
}
