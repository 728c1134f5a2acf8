// Package sync implements the push and pull synchronization engine between
// the local vault and Linear.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"linearsync/internal/config"
	"linearsync/internal/linear"
	"linearsync/internal/logger"
	"linearsync/internal/store"
	"linearsync/internal/vault"
)

// defaultPageSize bounds how many remote issues one run considers for
// matching and import.
const defaultPageSize = 250

// Engine orchestrates push and pull runs. It owns conflict detection policy
// and the mapping lifecycle; collaborators are injected.
type Engine struct {
	store  *store.Store
	gw     linear.Gateway
	src    vault.Source
	cfg    *config.Config
	labels map[string]labelCacheEntry
	now    func() time.Time
}

// labelCacheEntry caches one (team, label name) resolution, including
// negative results.
type labelCacheEntry struct {
	id string
}

// New creates a sync engine. The configuration is taken as an explicit
// value; the engine never reads the environment.
func New(st *store.Store, gw linear.Gateway, src vault.Source, cfg *config.Config) *Engine {
	return &Engine{
		store:  st,
		gw:     gw,
		src:    src,
		cfg:    cfg,
		labels: make(map[string]labelCacheEntry),
		now:    time.Now,
	}
}

// resolveLabel resolves a label name to an id, caching per (team, name) for
// the duration of this engine invocation. Misses are cached too.
func (e *Engine) resolveLabel(ctx context.Context, teamID, name string) (string, error) {
	key := teamID + "\x00" + name
	if cached, ok := e.labels[key]; ok {
		return cached.id, nil
	}

	id, err := e.gw.ResolveLabelID(ctx, teamID, name)
	if err != nil {
		return "", err
	}
	e.labels[key] = labelCacheEntry{id: id}
	return id, nil
}

// isConflictArtifact reports whether an artifact is a conflict copy:
// tagged "conflict" or named with a "(conflict)" marker, case-insensitively.
func isConflictArtifact(a *vault.Artifact) bool {
	if a.HasTag(vault.TagConflict) {
		return true
	}
	return strings.Contains(strings.ToLower(a.Name), "(conflict)")
}

// hasLabel reports whether the issue carries a label with the given name.
func hasLabel(issue *linear.Issue, name string) bool {
	for _, l := range issue.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// timestamp formats the engine clock for mapping entries.
func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// lastSyncTime returns the later of an entry's last-pulled-at and
// last-pushed-at, or the zero time when neither is recorded.
func lastSyncTime(entry store.MappingEntry) time.Time {
	var last time.Time
	if t, err := time.Parse(time.RFC3339, entry.LastPulledAt); err == nil && t.After(last) {
		last = t
	}
	if t, err := time.Parse(time.RFC3339, entry.LastPushedAt); err == nil && t.After(last) {
		last = t
	}
	return last
}

// refreshRemoteFields copies cached display fields from an issue onto a
// mapping entry.
func refreshRemoteFields(entry *store.MappingEntry, issue *linear.Issue) {
	entry.Identifier = issue.Identifier
	if issue.Team != nil {
		entry.TeamID = issue.Team.ID
		entry.TeamName = issue.Team.Name
	}
	if issue.Project != nil {
		entry.ProjectID = issue.Project.ID
		entry.ProjectName = issue.Project.Name
	}
}

// Archive archives the remote issue mapped to an artifact and removes the
// mapping entry. This is an explicit operation, never run automatically.
func (e *Engine) Archive(ctx context.Context, artifactID string) error {
	entry, ok := e.store.Get(artifactID)
	if !ok || entry.IssueID == "" {
		return fmt.Errorf("artifact %s has no mapped issue", artifactID)
	}

	if err := e.gw.ArchiveIssue(ctx, entry.IssueID); err != nil {
		return fmt.Errorf("failed to archive %s: %w", entry.Identifier, err)
	}

	e.store.Delete(artifactID)
	if err := e.store.Save(); err != nil {
		return err
	}

	logger.Info("sync: archived %s and removed mapping for %s", entry.Identifier, artifactID)
	return nil
}
