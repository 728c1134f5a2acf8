package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"linearsync/internal/fingerprint"
	"linearsync/internal/linear"
	"linearsync/internal/logger"
	"linearsync/internal/store"
	"linearsync/internal/vault"
)

// PushResult reports the outcome of one push run. Per-item failures do not
// fail the run; callers inspect Errors for partial failure.
type PushResult struct {
	Created         int
	Updated         int
	Reused          int
	SkippedConflict int
	Failed          int
	Identifiers     []string
	Errors          []string
	Warnings        []string
}

// Push ensures every non-conflict artifact has a corresponding remote issue
// with matching title and description, creating, updating, or reusing issues
// as needed. The mapping store is persisted once at the end of the run.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	result := &PushResult{}

	artifacts, err := e.src.ListArtifacts()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	logger.Debug("sync: push starting with %d artifacts", len(artifacts))

	// Remote ids already claimed by a mapping entry, grown as this run
	// claims more. Prevents two artifacts reusing one issue.
	claimed := e.store.UsedIssueIDs()

	// Candidate issues for reuse are fetched once, lazily, on the first
	// unmapped artifact.
	var remoteIndex *fingerprint.Index
	var remoteIssues map[string]*linear.Issue

	// Resolve the push label once per run. An unresolvable label is a
	// warning, not an error.
	pushLabelID := ""
	if e.cfg.PushLabel != "" {
		id, err := e.resolveLabel(ctx, e.cfg.TeamID, e.cfg.PushLabel)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to resolve push label %q: %v", e.cfg.PushLabel, err))
		} else if id == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("push label %q not found; creating issues unlabeled", e.cfg.PushLabel))
		} else {
			pushLabelID = id
		}
	}

	for i := range artifacts {
		a := &artifacts[i]

		if isConflictArtifact(a) {
			logger.Debug("sync: skipping conflict artifact %s (%s)", a.ID, a.Name)
			result.SkippedConflict++
			continue
		}

		entry, hasEntry := e.store.Get(a.ID)

		if hasEntry && entry.IssueID != "" {
			// Already associated: push current content.
			ref, err := e.gw.UpdateIssue(ctx, entry.IssueID, a.Name, a.Content)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", a.ID, err))
				continue
			}
			entry.Identifier = ref.Identifier
			result.Updated++
			result.Identifiers = append(result.Identifiers, ref.Identifier)
		} else {
			// No mapping yet: try to reuse an unclaimed remote issue
			// before creating a duplicate.
			if remoteIndex == nil {
				remoteIndex, remoteIssues, err = e.buildRemoteIndex(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to list remote issues: %w", err)
				}
			}

			match := firstUnclaimed(remoteIndex.ByContent(a.Name, a.Content), claimed)
			if match == nil {
				match = firstUnclaimed(remoteIndex.ByTitle(a.Name), claimed)
			}

			if match != nil {
				issue := remoteIssues[match.ID]
				entry = store.MappingEntry{IssueID: issue.ID}
				refreshRemoteFields(&entry, issue)
				claimed[issue.ID] = true
				result.Reused++
				result.Identifiers = append(result.Identifiers, issue.Identifier)
				logger.Debug("sync: reusing %s for artifact %s", issue.Identifier, a.ID)
			} else {
				req := linear.CreateIssueRequest{
					Title:       a.Name,
					Description: a.Content,
					TeamID:      e.cfg.TeamID,
					ProjectID:   e.cfg.ProjectID,
				}
				if pushLabelID != "" {
					req.LabelIDs = []string{pushLabelID}
				}
				ref, err := e.gw.CreateIssue(ctx, req)
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", a.ID, err))
					continue
				}
				entry = store.MappingEntry{
					IssueID:    ref.ID,
					Identifier: ref.Identifier,
					TeamID:     e.cfg.TeamID,
					ProjectID:  e.cfg.ProjectID,
				}
				claimed[ref.ID] = true
				result.Created++
				result.Identifiers = append(result.Identifiers, ref.Identifier)
				logger.Debug("sync: created %s for artifact %s", ref.Identifier, a.ID)
			}
		}

		// Association succeeded; record it before the attachment step so
		// the mapping survives an attachment failure.
		entry.LastPushedAt = e.timestamp()
		e.store.Set(a.ID, entry)

		if a.Kind != vault.KindNote {
			if err := e.pushAttachment(ctx, a, &entry); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", a.ID, err))
				continue
			}
			e.store.Set(a.ID, entry)
		}
	}

	if err := e.store.Save(); err != nil {
		return nil, err
	}

	logger.Debug("sync: push done (created=%d updated=%d reused=%d conflicts=%d failed=%d)",
		result.Created, result.Updated, result.Reused, result.SkippedConflict, result.Failed)
	return result, nil
}

// buildRemoteIndex fetches one bounded page of remote issues, filters it to
// push-label carriers when a push label is configured, and indexes the rest
// for matching. Issue order is preserved for first-match semantics.
func (e *Engine) buildRemoteIndex(ctx context.Context) (*fingerprint.Index, map[string]*linear.Issue, error) {
	issues, err := e.gw.ListIssues(ctx, defaultPageSize)
	if err != nil {
		return nil, nil, err
	}

	index := fingerprint.NewIndex()
	byID := make(map[string]*linear.Issue, len(issues))
	for i := range issues {
		issue := &issues[i]
		if e.cfg.PushLabel != "" && !hasLabel(issue, e.cfg.PushLabel) {
			continue
		}
		index.Add(fingerprint.Item{ID: issue.ID, Title: issue.Title, Body: issue.Description})
		byID[issue.ID] = issue
	}
	return index, byID, nil
}

// firstUnclaimed returns the first match not yet claimed by a mapping entry
// in this run, or nil.
func firstUnclaimed(items []fingerprint.Item, claimed map[string]bool) *fingerprint.Item {
	for i := range items {
		if !claimed[items[i].ID] {
			return &items[i]
		}
	}
	return nil
}

// pushAttachment uploads a binary artifact's bytes as an issue attachment
// when the on-disk signature (size + mtime) differs from the last upload.
func (e *Engine) pushAttachment(ctx context.Context, a *vault.Artifact, entry *store.MappingEntry) error {
	path := e.src.ArtifactPath(a)
	if path == "" {
		return fmt.Errorf("no backing file for artifact %s", a.ID)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	size := info.Size()
	modTime := info.ModTime().Unix()
	if size == entry.AttachmentSize && modTime == entry.AttachmentModTime && entry.AttachmentID != "" {
		logger.Debug("sync: attachment for %s unchanged, skipping upload", a.ID)
		return nil
	}

	contentType := a.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	slot, err := e.gw.RequestUploadSlot(ctx, contentType, filepath.Base(path), size)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := e.gw.UploadAsset(ctx, slot, contentType, data); err != nil {
		return err
	}

	attID, err := e.gw.CreateAttachment(ctx, entry.IssueID, a.Name, slot.AssetURL)
	if err != nil {
		return err
	}

	entry.AttachmentID = attID
	entry.AttachmentURL = slot.AssetURL
	entry.AttachmentSize = size
	entry.AttachmentModTime = modTime

	logger.Info("sync: uploaded %s (%s) to %s", a.Name, humanize.Bytes(uint64(size)), entry.Identifier)
	return nil
}
