package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	shardPattern = "checkpoint_batch_%d.csv"
	retryName    = "checkpoint_retry.csv"
)

// Store manages one stage's shard directory (e.g. cache_zensvi/raw_pids).
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the shard directory for a stage.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: mkdir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the shard directory path.
func (s *Store) Dir() string {
	return s.dir
}

// ShardCount counts existing shard files. Batch numbering for the current
// run continues from this count.
func (s *Store) ShardCount() (int, error) {
	paths, err := s.shardPaths()
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

func (s *Store) shardPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: glob shards")
	}
	sort.Strings(paths)
	return paths, nil
}

// Merge concatenates all shards (including the retry shard) into one table.
// Empty or unreadable shards are skipped with a warning; they never abort
// the stage.
func (s *Store) Merge() (*Table, error) {
	paths, err := s.shardPaths()
	if err != nil {
		return nil, err
	}
	merged := &Table{}
	for _, path := range paths {
		t, err := ReadFile(path)
		if err != nil {
			zap.L().Warn("skipping unreadable checkpoint shard",
				zap.String("shard", path),
				zap.Error(err),
			)
			continue
		}
		merged.AppendTable(t)
	}
	return merged, nil
}

// WriteShard persists one batch's rows as checkpoint_batch_{n}.csv.
func (s *Store) WriteShard(n int, t *Table) error {
	return t.WriteFile(filepath.Join(s.dir, fmt.Sprintf(shardPattern, n)))
}

// WriteRetry persists the end-of-stage retry sweep's rows.
func (s *Store) WriteRetry(t *Table) error {
	return t.WriteFile(filepath.Join(s.dir, retryName))
}

// Remove deletes the shard directory. Called only after the stage's
// canonical file has been written.
func (s *Store) Remove() error {
	return eris.Wrapf(os.RemoveAll(s.dir), "checkpoint: remove %s", s.dir)
}
