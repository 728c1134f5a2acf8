package sync

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"linearsync/internal/config"
	"linearsync/internal/linear"
	"linearsync/internal/store"
	"linearsync/internal/vault"
)

// seedMapped creates a local artifact mapped to a remote issue and returns
// both ids. lastPulled backdates the mapping so tests control the conflict
// window.
func seedMapped(t *testing.T, env *testEnv, name, localContent, remoteContent, lastPulled string) (string, string) {
	t.Helper()

	a := env.addNote(t, name, localContent)
	issueID := env.gw.addIssue(linear.Issue{Title: name, Description: remoteContent})

	entry, _ := env.store.Get(a.ID)
	entry.IssueID = issueID
	entry.Identifier = env.gw.issues[issueID].Identifier
	entry.LastPulledAt = lastPulled
	env.store.Set(a.ID, entry)

	return a.ID, issueID
}

func TestPullUpdatesLocal(t *testing.T) {
	env := newTestEnv(t, nil)
	// Local untouched since the last sync; only the remote moved on.
	artifactID, _ := seedMapped(t, env, "Login Flow", "remote version", "remote version", "2100-01-01T00:00:00Z")
	entry, _ := env.store.Get(artifactID)
	env.gw.issues[entry.IssueID].Description = "newer remote version"

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Updated != 1 || result.Conflicts != 0 {
		t.Errorf("counts = updated %d conflicts %d, want 1/0", result.Updated, result.Conflicts)
	}
	a, err := env.vault.GetArtifact(artifactID)
	if err != nil || a == nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if a.Content != "newer remote version" {
		t.Errorf("content = %q, want remote state", a.Content)
	}
	after, _ := env.store.Get(artifactID)
	if after.LastPulledAt == "2100-01-01T00:00:00Z" {
		t.Error("LastPulledAt not refreshed")
	}
}

func TestPullConflictPreservation(t *testing.T) {
	env := newTestEnv(t, nil)
	// The artifact was written after the recorded sync and differs from
	// the remote: a genuine local edit about to be overwritten.
	artifactID, _ := seedMapped(t, env, "Login Flow", "local edit", "remote version", "2000-01-01T00:00:00Z")

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", result.Conflicts)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, the overwrite must still happen", result.Updated)
	}

	// The original carries the remote state.
	a, _ := env.vault.GetArtifact(artifactID)
	if a.Content != "remote version" {
		t.Errorf("original content = %q, want %q", a.Content, "remote version")
	}

	// Exactly one conflict copy holding the pre-overwrite content.
	all, err := env.vault.ListArtifacts()
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	var copies []vault.Artifact
	for _, art := range all {
		if art.HasTag(vault.TagConflict) {
			copies = append(copies, art)
		}
	}
	if len(copies) != 1 {
		t.Fatalf("found %d conflict copies, want 1", len(copies))
	}
	if copies[0].Content != "local edit" {
		t.Errorf("copy content = %q, want the local edit preserved", copies[0].Content)
	}
	if !strings.Contains(copies[0].Name, "(conflict)") {
		t.Errorf("copy name = %q, want a conflict marker", copies[0].Name)
	}

	records := env.store.Conflicts()
	if len(records) != 1 {
		t.Fatalf("found %d conflict records, want 1", len(records))
	}
	if records[0].ArtifactID != artifactID || records[0].CopyID != copies[0].ID {
		t.Errorf("record = %+v, want it linking original and copy", records[0])
	}
}

func TestPullNoConflictWhenLocalUnchangedSinceSync(t *testing.T) {
	env := newTestEnv(t, nil)
	// Content differs, but the artifact has not been touched since the
	// recorded sync: treat the divergence as stale, not a local edit.
	artifactID, _ := seedMapped(t, env, "Login Flow", "old local", "remote version", "2100-01-01T00:00:00Z")

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Conflicts != 0 {
		t.Errorf("Conflicts = %d, want 0", result.Conflicts)
	}
	a, _ := env.vault.GetArtifact(artifactID)
	if a.Content != "remote version" {
		t.Errorf("content = %q, want plain overwrite", a.Content)
	}
	if len(env.store.Conflicts()) != 0 {
		t.Errorf("conflict records = %v, want none", env.store.Conflicts())
	}
}

func TestPullConflictCopiesDisabled(t *testing.T) {
	cfg := &config.Config{APIKey: "k", TeamID: "team_1", PullCreateConflicts: false}
	env := newTestEnv(t, cfg)
	artifactID, _ := seedMapped(t, env, "Login Flow", "local edit", "remote version", "2000-01-01T00:00:00Z")

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Conflicts != 1 {
		t.Errorf("Conflicts = %d, the conflict is still counted", result.Conflicts)
	}
	all, _ := env.vault.ListArtifacts()
	if len(all) != 1 {
		t.Errorf("artifact count = %d, want no copy created", len(all))
	}
	if len(env.store.Conflicts()) != 0 {
		t.Errorf("conflict records = %v, want none when copies are disabled", env.store.Conflicts())
	}
	a, _ := env.vault.GetArtifact(artifactID)
	if a.Content != "remote version" {
		t.Errorf("content = %q, want overwrite to proceed", a.Content)
	}
}

// conflictFailSource simulates a vault that cannot create conflict copies.
type conflictFailSource struct {
	vault.Source
}

func (s conflictFailSource) CreateConflictCopy(req vault.ConflictCopyRequest) (*vault.Artifact, error) {
	return nil, fmt.Errorf("simulated copy failure")
}

func TestPullConflictCopyFailurePreservesLocal(t *testing.T) {
	env := newTestEnv(t, nil)
	artifactID, _ := seedMapped(t, env, "Login Flow", "local edit", "remote version", "2000-01-01T00:00:00Z")

	engine := New(env.store, env.gw, conflictFailSource{env.vault}, env.cfg)
	result, err := engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("Failed = %d, want the item reported failed", result.Failed)
	}
	// Losing the only copy of the edit is worse than a stale artifact.
	a, _ := env.vault.GetArtifact(artifactID)
	if a.Content != "local edit" {
		t.Errorf("content = %q, want local edit untouched after copy failure", a.Content)
	}
}

func TestPullFetchFailureIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	aID, aIssue := seedMapped(t, env, "alpha", "same", "same", "2100-01-01T00:00:00Z")
	bID, _ := seedMapped(t, env, "beta", "same", "beta remote", "2100-01-01T00:00:00Z")

	env.gw.failGet[aIssue] = true

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Failed != 1 || result.Updated != 1 {
		t.Errorf("counts = failed %d updated %d, want 1/1", result.Failed, result.Updated)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], aID+":") {
		t.Errorf("Errors = %v, want one entry keyed by %s", result.Errors, aID)
	}

	b, _ := env.vault.GetArtifact(bID)
	if b.Content != "beta remote" {
		t.Errorf("surviving artifact content = %q, want it pulled", b.Content)
	}
	failedEntry, _ := env.store.Get(aID)
	if failedEntry.LastPulledAt != "2100-01-01T00:00:00Z" {
		t.Errorf("failed entry LastPulledAt = %q, want untouched", failedEntry.LastPulledAt)
	}
}

func TestPullRecreatesDeletedArtifact(t *testing.T) {
	env := newTestEnv(t, nil)

	issueID := env.gw.addIssue(linear.Issue{Title: "Login Flow", Description: "remote version"})
	env.store.Set("gone-artifact", store.MappingEntry{IssueID: issueID, Identifier: "ENG-99"})

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	if _, ok := env.store.Get("gone-artifact"); ok {
		t.Error("stale mapping key should be removed")
	}

	all, _ := env.vault.ListArtifacts()
	if len(all) != 1 {
		t.Fatalf("artifact count = %d, want the issue rematerialized", len(all))
	}
	if all[0].Content != "remote version" {
		t.Errorf("content = %q, want remote state", all[0].Content)
	}
	entry, ok := env.store.Get(all[0].ID)
	if !ok || entry.IssueID != issueID {
		t.Errorf("mapping = %+v, want it moved to the new artifact", entry)
	}
}

func TestPullCreateRequiresImportLabel(t *testing.T) {
	cfg := &config.Config{APIKey: "k", TeamID: "team_1", PullCreate: true, PullCreateConflicts: true}
	env := newTestEnv(t, cfg)

	if _, err := env.engine.Pull(context.Background()); err == nil {
		t.Fatal("Pull should fail when pull-create is enabled without an import label")
	}
}

func TestPullCreateImports(t *testing.T) {
	cfg := &config.Config{
		APIKey: "k", TeamID: "team_1",
		PullCreate: true, PullImportLabel: "vault", PullCreateConflicts: true,
	}
	env := newTestEnv(t, cfg)

	issueID := env.gw.addIssue(linear.Issue{
		Title:       "Remote Only",
		Description: "written in the tracker",
		Labels:      []linear.Label{{Name: "vault"}},
	})
	env.gw.addIssue(linear.Issue{Title: "Unlabeled", Description: "ignored"})

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Imported != 1 {
		t.Fatalf("Imported = %d, want only the labeled issue", result.Imported)
	}

	all, _ := env.vault.ListArtifacts()
	if len(all) != 1 {
		t.Fatalf("artifact count = %d, want 1", len(all))
	}
	a := all[0]
	if a.Name != "Remote Only" || a.Content != "written in the tracker" {
		t.Errorf("artifact = %q/%q, want remote issue content", a.Name, a.Content)
	}
	if !a.HasTag(TagImported) {
		t.Errorf("tags = %v, want %q marking the import", a.Tags, TagImported)
	}
	entry, ok := env.store.Get(a.ID)
	if !ok || entry.IssueID != issueID {
		t.Errorf("mapping = %+v, want the import mapped immediately", entry)
	}
}

func TestPullCreateReconciles(t *testing.T) {
	cfg := &config.Config{
		APIKey: "k", TeamID: "team_1",
		PullCreate: true, PullImportLabel: "vault", PullCreateConflicts: true,
	}
	env := newTestEnv(t, cfg)

	a := env.addNote(t, "Login Flow", "draft notes")
	issueID := env.gw.addIssue(linear.Issue{
		Title:       "Login Flow",
		Description: "draft notes",
		Labels:      []linear.Label{{Name: "vault"}},
	})

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.Reconciled != 1 || result.Imported != 0 {
		t.Errorf("counts = reconciled %d imported %d, want 1/0", result.Reconciled, result.Imported)
	}
	all, _ := env.vault.ListArtifacts()
	if len(all) != 1 {
		t.Errorf("artifact count = %d, reconcile must not import a duplicate", len(all))
	}
	entry, ok := env.store.Get(a.ID)
	if !ok || entry.IssueID != issueID {
		t.Errorf("mapping = %+v, want the existing artifact claimed", entry)
	}
}

func TestPullCreateSkipsExistingTitle(t *testing.T) {
	cfg := &config.Config{
		APIKey: "k", TeamID: "team_1",
		PullCreate: true, PullImportLabel: "vault", PullCreateConflicts: true,
	}
	env := newTestEnv(t, cfg)

	// A mapped local artifact already owns this title; the labeled issue
	// has different content, so it cannot reconcile either.
	seedMapped(t, env, "Login Flow", "mapped content", "mapped content", "2100-01-01T00:00:00Z")
	env.gw.addIssue(linear.Issue{
		Title:       "login flow",
		Description: "unrelated content",
		Labels:      []linear.Label{{Name: "vault"}},
	})

	result, err := env.engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if result.SkippedExistingTitle != 1 || result.Imported != 0 {
		t.Errorf("counts = skipped %d imported %d, want 1/0",
			result.SkippedExistingTitle, result.Imported)
	}
	all, _ := env.vault.ListArtifacts()
	if len(all) != 1 {
		t.Errorf("artifact count = %d, want no import for a duplicate title", len(all))
	}
}
