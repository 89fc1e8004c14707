package clip

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const workingSetPrefix = "clip-"

// Role tags what an artifact is in the pipeline.
type Role string

const (
	RoleSource   Role = "source"
	RoleTrimmed  Role = "trimmed"
	RoleComposed Role = "composed"
	RoleFinal    Role = "final"
)

// Artifact is a file inside a WorkingSet plus its role.
type Artifact struct {
	Role Role
	Path string
}

// Name is the artifact's filename, used as a relative argument when a
// command runs inside the working set.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// WorkingSet is the private scratch directory of one request.
type WorkingSet struct {
	ID  string
	Dir string

	once      sync.Once
	removeErr error
}

// NewWorkingSet creates root/clip-<id>. The directory must not exist yet.
func NewWorkingSet(root, id string) (*WorkingSet, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir := filepath.Join(root, workingSetPrefix+id)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("create working set: %w", err)
	}
	return &WorkingSet{ID: id, Dir: dir}, nil
}

// Artifact returns the artifact for role. Each role maps to its own file so
// no stage ever writes over another stage's output.
func (w *WorkingSet) Artifact(role Role) Artifact {
	return Artifact{Role: role, Path: filepath.Join(w.Dir, string(role)+".mp4")}
}

// Path joins name onto the working set directory.
func (w *WorkingSet) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Remove deletes the working set and everything in it. Only the first call
// does any work; later calls return the first result.
func (w *WorkingSet) Remove() error {
	w.once.Do(func() {
		w.removeErr = os.RemoveAll(w.Dir)
	})
	return w.removeErr
}

// SweepStale removes working sets left behind under root by a previous
// process. Call it before serving requests.
func SweepStale(root string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workingSetPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			if logger != nil {
				logger.Warn("failed to remove stale working set", "dir", e.Name(), "error", err)
			}
			continue
		}
		removed++
	}
	return removed, nil
}
