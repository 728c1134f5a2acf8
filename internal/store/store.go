// Package store persists the mapping between local artifacts and Linear
// issues, plus the append-only conflict log.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// MappingEntry associates one artifact with one remote issue and carries the
// sync metadata recorded for it.
type MappingEntry struct {
	IssueID     string `json:"issueId"`
	Identifier  string `json:"identifier,omitempty"`
	TeamID      string `json:"teamId,omitempty"`
	TeamName    string `json:"teamName,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	ProjectName string `json:"projectName,omitempty"`

	// Attachment metadata for the last uploaded binary.
	AttachmentID      string `json:"attachmentId,omitempty"`
	AttachmentURL     string `json:"attachmentUrl,omitempty"`
	AttachmentSize    int64  `json:"attachmentSize,omitempty"`
	AttachmentModTime int64  `json:"attachmentModTime,omitempty"`

	LastPushedAt string `json:"lastPushedAt,omitempty"` // RFC3339
	LastPulledAt string `json:"lastPulledAt,omitempty"` // RFC3339
}

// ConflictRecord notes one preserved local edit. Records are append-only.
type ConflictRecord struct {
	ArtifactID string `json:"artifactId"`
	Source     string `json:"source"`
	Note       string `json:"note,omitempty"`
	CopyID     string `json:"copyId,omitempty"`
	CreatedAt  string `json:"createdAt"` // RFC3339
}

// mappingFile is the on-disk shape of the mapping file.
type mappingFile struct {
	Artifacts map[string]MappingEntry `json:"artifacts"`
}

// conflictFile is the on-disk shape of the conflict log.
type conflictFile struct {
	Conflicts []ConflictRecord `json:"conflicts"`
}

// Store holds the full mapping state in memory for one sync run.
// It is loaded once at run start and written once at run end.
type Store struct {
	path      string
	entries   map[string]MappingEntry
	conflicts []ConflictRecord
}

// Load reads the mapping file at path. A missing or malformed file is
// treated as an empty mapping, never an error. The conflict log is read
// from a conflicts.json file next to the mapping file.
func Load(path string) *Store {
	s := &Store{
		path:    path,
		entries: make(map[string]MappingEntry),
	}

	if data, err := os.ReadFile(path); err == nil {
		var mf mappingFile
		if err := json.Unmarshal(data, &mf); err == nil && mf.Artifacts != nil {
			s.entries = mf.Artifacts
		}
	}

	if data, err := os.ReadFile(s.conflictPath()); err == nil {
		var cf conflictFile
		if err := json.Unmarshal(data, &cf); err == nil {
			s.conflicts = cf.Conflicts
		}
	}

	return s
}

func (s *Store) conflictPath() string {
	return filepath.Join(filepath.Dir(s.path), "conflicts.json")
}

// Get returns the mapping entry for an artifact id, if any.
func (s *Store) Get(artifactID string) (MappingEntry, bool) {
	e, ok := s.entries[artifactID]
	return e, ok
}

// Set records the mapping entry for an artifact id, replacing any previous one.
func (s *Store) Set(artifactID string, entry MappingEntry) {
	s.entries[artifactID] = entry
}

// Delete removes the mapping entry for an artifact id.
func (s *Store) Delete(artifactID string) {
	delete(s.entries, artifactID)
}

// Len returns the number of mapping entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// ArtifactIDs returns the mapped artifact ids in sorted order, so callers
// iterating the store behave deterministically.
func (s *Store) ArtifactIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UsedIssueIDs returns the set of remote issue ids currently claimed by a
// mapping entry.
func (s *Store) UsedIssueIDs() map[string]bool {
	used := make(map[string]bool, len(s.entries))
	for _, e := range s.entries {
		if e.IssueID != "" {
			used[e.IssueID] = true
		}
	}
	return used
}

// AppendConflict adds one record to the conflict log. The log is never
// mutated or pruned.
func (s *Store) AppendConflict(rec ConflictRecord) {
	s.conflicts = append(s.conflicts, rec)
}

// Conflicts returns the recorded conflicts in append order.
func (s *Store) Conflicts() []ConflictRecord {
	return s.conflicts
}

// Save atomically rewrites the mapping file and the conflict log.
// The whole file is replaced in one rename; there is no partial-write state.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	if err := writeJSONAtomic(s.path, mappingFile{Artifacts: s.entries}); err != nil {
		return fmt.Errorf("failed to write mapping file: %w", err)
	}

	if err := writeJSONAtomic(s.conflictPath(), conflictFile{Conflicts: s.conflicts}); err != nil {
		return fmt.Errorf("failed to write conflict log: %w", err)
	}

	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
