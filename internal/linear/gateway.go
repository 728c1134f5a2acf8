// Package linear provides the remote gateway to the Linear issue tracker.
package linear

import "context"

// Team identifies a Linear team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Project identifies a Linear project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label identifies an issue label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Issue is a remote issue as returned by the gateway.
type Issue struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Team        *Team    `json:"team,omitempty"`
	Project     *Project `json:"project,omitempty"`
	Labels      []Label  `json:"labels,omitempty"`
}

// IssueRef is the identity returned by create/update mutations.
type IssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
}

// CreateIssueRequest carries the fields for a new issue.
type CreateIssueRequest struct {
	Title       string
	Description string
	TeamID      string
	ProjectID   string   // optional
	LabelIDs    []string // optional
}

// UploadSlot is a presigned destination for one file upload.
type UploadSlot struct {
	UploadURL string            `json:"uploadUrl"`
	AssetURL  string            `json:"assetUrl"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Gateway is the capability interface the sync engine consumes. The engine
// never inspects error internals; every method returns a distinct error when
// the remote rejects the request or the transport fails.
type Gateway interface {
	CreateIssue(ctx context.Context, req CreateIssueRequest) (*IssueRef, error)
	UpdateIssue(ctx context.Context, issueID, title, description string) (*IssueRef, error)
	GetIssue(ctx context.Context, issueID string) (*Issue, error)
	ListIssues(ctx context.Context, limit int) ([]Issue, error)
	// ResolveLabelID returns the label id, or "" when no label with that
	// name exists for the team.
	ResolveLabelID(ctx context.Context, teamID, labelName string) (string, error)
	RequestUploadSlot(ctx context.Context, contentType, filename string, size int64) (*UploadSlot, error)
	// UploadAsset transfers bytes to a previously requested slot.
	UploadAsset(ctx context.Context, slot *UploadSlot, contentType string, data []byte) error
	CreateAttachment(ctx context.Context, issueID, title, assetURL string) (string, error)
	ArchiveIssue(ctx context.Context, issueID string) error
}
