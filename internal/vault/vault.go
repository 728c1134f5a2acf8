// Package vault manages the local collection of file-backed artifacts.
package vault

import (
	"strings"
	"time"
)

// Artifact kinds. KindNote is the default text kind; anything else is
// binary content that syncs as an attachment.
const (
	KindNote  = "note"
	KindImage = "image"
	KindFile  = "file"
)

// TagConflict marks conflict-copy artifacts. They are never pushed.
const TagConflict = "conflict"

// Artifact is one local record. Content is populated for note artifacts;
// binary artifacts are read through ArtifactPath instead.
type Artifact struct {
	ID        string
	Name      string
	Content   string
	Kind      string
	MimeType  string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTag reports whether the artifact carries the given tag,
// case-insensitively.
func (a *Artifact) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// CreateRequest describes a new artifact.
type CreateRequest struct {
	Name     string
	Content  string
	Kind     string // defaults to KindNote
	MimeType string
	Tags     []string
}

// UpdateRequest carries optional field updates. Nil fields are unchanged.
type UpdateRequest struct {
	Name     *string
	Content  *string
	MimeType *string
	Tags     *[]string
}

// ConflictCopyRequest asks for a copy of an artifact's current content,
// preserved before an incoming overwrite.
type ConflictCopyRequest struct {
	ArtifactID string
	Source     string
	Note       string
}

// Source is the capability interface the sync engine consumes.
type Source interface {
	// ListArtifacts returns all artifacts in a stable listing order.
	ListArtifacts() ([]Artifact, error)
	// GetArtifact returns the artifact with the given id, or nil if it
	// does not exist.
	GetArtifact(id string) (*Artifact, error)
	// ArtifactPath returns the absolute on-disk path backing an artifact,
	// for raw byte reads and size/mtime signatures.
	ArtifactPath(a *Artifact) string
	// CreateArtifact creates a new artifact.
	CreateArtifact(req CreateRequest) (*Artifact, error)
	// UpdateArtifact applies the given updates. Returns nil if the
	// artifact does not exist.
	UpdateArtifact(id string, req UpdateRequest) (*Artifact, error)
	// CreateConflictCopy snapshots an artifact's current content into a
	// new conflict-tagged artifact. Returns nil if the original is gone.
	CreateConflictCopy(req ConflictCopyRequest) (*Artifact, error)
}
