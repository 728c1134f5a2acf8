package sync

import (
	"context"
	"fmt"

	"linearsync/internal/fingerprint"
	"linearsync/internal/logger"
	"linearsync/internal/store"
	"linearsync/internal/vault"
)

// TagImported marks artifacts created from remote issues during pull.
const TagImported = "from-linear"

// PullResult reports the outcome of one pull run.
type PullResult struct {
	Updated              int
	Reconciled           int
	Imported             int
	SkippedExistingTitle int
	Failed               int
	Conflicts            int
	Identifiers          []string
	Errors               []string
	Warnings             []string
}

// Pull refreshes every mapped artifact from its remote issue, preserving
// conflicting local edits as conflict copies, and optionally imports
// unmapped remote issues as new artifacts. The mapping store is persisted
// once at the end of the run.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	// Configuration errors fail the whole run before any remote calls.
	if e.cfg.PullCreate && e.cfg.PullImportLabel == "" {
		return nil, fmt.Errorf("pull-create requires an import label: set pull_import_label")
	}

	result := &PullResult{}

	for _, artifactID := range e.store.ArtifactIDs() {
		entry, _ := e.store.Get(artifactID)
		if entry.IssueID == "" {
			continue
		}
		e.pullOne(ctx, artifactID, entry, result)
	}

	if e.cfg.PullCreate {
		if err := e.pullCreate(ctx, result); err != nil {
			return nil, err
		}
	}

	if err := e.store.Save(); err != nil {
		return nil, err
	}

	logger.Debug("sync: pull done (updated=%d reconciled=%d imported=%d skipped=%d failed=%d)",
		result.Updated, result.Reconciled, result.Imported, result.SkippedExistingTitle, result.Failed)
	return result, nil
}

// pullOne refreshes a single mapped artifact. Failures are recorded on the
// result and never abort the run.
func (e *Engine) pullOne(ctx context.Context, artifactID string, entry store.MappingEntry, result *PullResult) {
	issue, err := e.gw.GetIssue(ctx, entry.IssueID)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", artifactID, err))
		return
	}

	a, err := e.src.GetArtifact(artifactID)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", artifactID, err))
		return
	}

	localContent := ""
	if a != nil {
		localContent = a.Content
	}

	// A genuine local edit: content diverged and the artifact changed
	// after the last recorded sync in either direction.
	if a != nil && localContent != issue.Description && a.UpdatedAt.After(lastSyncTime(entry)) {
		result.Conflicts++
		if e.cfg.PullCreateConflicts {
			copyArt, err := e.src.CreateConflictCopy(vault.ConflictCopyRequest{
				ArtifactID: artifactID,
				Source:     "remote",
				Note:       fmt.Sprintf("local edit preserved before pull of %s", issue.Identifier),
			})
			if err != nil {
				// Without the copy the local edit would be lost; leave
				// this artifact untouched and report the failure.
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", artifactID, err))
				return
			}
			rec := store.ConflictRecord{
				ArtifactID: artifactID,
				Source:     "remote",
				Note:       fmt.Sprintf("overwritten by %s", issue.Identifier),
				CreatedAt:  e.timestamp(),
			}
			if copyArt != nil {
				rec.CopyID = copyArt.ID
			}
			e.store.AppendConflict(rec)
			logger.Warn("sync: conflict on %s, local edit preserved as copy", artifactID)
		} else {
			logger.Warn("sync: conflict on %s, copies disabled, overwriting", artifactID)
		}
	}

	// Overwrite local state from remote. The conflict copy preserves the
	// pre-overwrite content; it never prevents the overwrite.
	if a != nil {
		_, err = e.src.UpdateArtifact(artifactID, vault.UpdateRequest{
			Name:    &issue.Title,
			Content: &issue.Description,
		})
	} else {
		// Artifact deleted locally; recreate it from the remote issue so
		// the mapping stays usable.
		var created *vault.Artifact
		created, err = e.src.CreateArtifact(vault.CreateRequest{
			Name:    issue.Title,
			Content: issue.Description,
		})
		if err == nil && created != nil {
			e.store.Delete(artifactID)
			artifactID = created.ID
		}
	}
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", artifactID, err))
		return
	}

	refreshRemoteFields(&entry, issue)
	entry.LastPulledAt = e.timestamp()
	e.store.Set(artifactID, entry)

	result.Updated++
	result.Identifiers = append(result.Identifiers, issue.Identifier)
}

// pullCreate imports remote issues carrying the import label that no mapping
// entry references yet. A fingerprint or title match against an unmapped
// local artifact reconciles instead of importing a duplicate.
func (e *Engine) pullCreate(ctx context.Context, result *PullResult) error {
	issues, err := e.gw.ListIssues(ctx, defaultPageSize)
	if err != nil {
		return fmt.Errorf("failed to list remote issues: %w", err)
	}

	artifacts, err := e.src.ListArtifacts()
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	used := e.store.UsedIssueIDs()

	// Index unmapped local artifacts for reconciliation, and collect every
	// local title (mapped or not) for duplicate-title suppression.
	localIndex := fingerprint.NewIndex()
	localTitles := make(map[string]bool, len(artifacts))
	for i := range artifacts {
		a := &artifacts[i]
		localTitles[fingerprint.TitleKey(a.Name)] = true
		if _, mapped := e.store.Get(a.ID); !mapped {
			localIndex.Add(fingerprint.Item{ID: a.ID, Title: a.Name, Body: a.Content})
		}
	}

	claimedLocal := make(map[string]bool)

	for i := range issues {
		issue := &issues[i]
		if !hasLabel(issue, e.cfg.PullImportLabel) || used[issue.ID] {
			continue
		}

		match := firstUnclaimed(localIndex.ByContent(issue.Title, issue.Description), claimedLocal)
		if match == nil {
			match = firstUnclaimed(localIndex.ByTitle(issue.Title), claimedLocal)
		}

		if match != nil {
			// Existing local artifact: create the missing mapping
			// instead of importing a duplicate.
			entry := store.MappingEntry{IssueID: issue.ID}
			refreshRemoteFields(&entry, issue)
			entry.LastPulledAt = e.timestamp()
			e.store.Set(match.ID, entry)
			claimedLocal[match.ID] = true
			used[issue.ID] = true
			result.Reconciled++
			result.Identifiers = append(result.Identifiers, issue.Identifier)
			logger.Debug("sync: reconciled %s onto artifact %s", issue.Identifier, match.ID)
			continue
		}

		if localTitles[fingerprint.TitleKey(issue.Title)] {
			result.SkippedExistingTitle++
			logger.Debug("sync: skipping import of %s, title already exists locally", issue.Identifier)
			continue
		}

		created, err := e.src.CreateArtifact(vault.CreateRequest{
			Name:    issue.Title,
			Content: issue.Description,
			Tags:    []string{TagImported},
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", issue.ID, err))
			continue
		}

		entry := store.MappingEntry{IssueID: issue.ID}
		refreshRemoteFields(&entry, issue)
		entry.LastPulledAt = e.timestamp()
		e.store.Set(created.ID, entry)
		used[issue.ID] = true
		localTitles[fingerprint.TitleKey(issue.Title)] = true
		result.Imported++
		result.Identifiers = append(result.Identifiers, issue.Identifier)
		logger.Debug("sync: imported %s as artifact %s", issue.Identifier, created.ID)
	}

	return nil
}
