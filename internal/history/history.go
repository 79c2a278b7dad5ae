package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"podship/pkg/fileutil"
)

// HistoryFileName is the JSON file under the backup root that is the
// single source of truth for deployment history.
const HistoryFileName = "deployment_history.json"

// Store keeps the append-only deployment history in one JSON array
// file. The file is loaded once at construction and fully rewritten
// after every mutation. A missing or corrupt file degrades to empty
// history rather than failing.
//
// The store is not safe for concurrent writers; the pipeline holds a
// single-writer lock around every mutating deployment operation.
type Store struct {
	path       string
	maxEntries int
	logger     *slog.Logger
	entries    []Entry
}

// NewStore opens (or initializes) the history file under backupRoot.
// History is capped at maxEntries; the oldest entries by DeployedAt are
// pruned first on each write.
func NewStore(backupRoot string, maxEntries int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(backupRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}

	s := &Store{
		path:       filepath.Join(backupRoot, HistoryFileName),
		maxEntries: maxEntries,
		logger:     logger,
	}
	s.load()

	return s, nil
}

// load reads the history file once. Corruption is logged and treated as
// empty history so a damaged file never blocks deployments.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read deployment history, starting empty", "path", s.path, "error", err)
		}
		s.entries = nil
		return
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Corrupt deployment history, starting empty", "path", s.path, "error", err)
		s.entries = nil
		return
	}

	s.entries = entries
}

// Append adds a new entry, prunes to the retention cap, and rewrites
// the history file.
func (s *Store) Append(e Entry) error {
	s.entries = append(s.entries, e)
	s.prune()
	return s.save()
}

// prune drops the oldest entries by DeployedAt beyond the cap.
func (s *Store) prune() {
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}

	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].DeployedAt.Before(s.entries[j].DeployedAt)
	})
	s.entries = s.entries[len(s.entries)-s.maxEntries:]
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deployment history: %w", err)
	}

	if err := fileutil.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write deployment history: %w", err)
	}

	return nil
}

// Entries returns history entries newest first. A limit <= 0 returns
// everything.
func (s *Store) Entries(limit int) []Entry {
	sorted := make([]Entry, len(s.entries))
	copy(sorted, s.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DeployedAt.After(sorted[j].DeployedAt)
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Find returns the entry with the given id.
func (s *Store) Find(id string) (Entry, bool) {
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of persisted entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// RollbackCandidates returns successful, non-rollback production
// entries, newest first.
func (s *Store) RollbackCandidates() []Entry {
	var candidates []Entry
	for _, e := range s.Entries(0) {
		if e.Environment == "production" && e.Status == "completed" && e.RollbackFrom == "" {
			candidates = append(candidates, e)
		}
	}
	return candidates
}
