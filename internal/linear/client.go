package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const apiEndpoint = "https://api.linear.app/graphql"

// Client is a Gateway adapter speaking Linear's GraphQL API.
type Client struct {
	endpoint    string
	apiKey      string
	bearerToken string
	httpClient  *http.Client
}

// New creates a client authenticating with a personal API key.
func New(apiKey string) *Client {
	return &Client{
		endpoint:   apiEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithBearer creates a client authenticating with an OAuth bearer token.
func NewWithBearer(token string) *Client {
	return &Client{
		endpoint:    apiEndpoint,
		bearerToken: token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithEndpoint overrides the GraphQL endpoint (for testing).
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// graphQLError is one entry of a GraphQL errors array.
type graphQLError struct {
	Message string `json:"message"`
}

// transientError marks HTTP failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// doQuery posts one GraphQL request and decodes the data payload into out.
// Transient transport failures (network errors, 5xx) are retried with
// exponential backoff; GraphQL errors and 4xx responses are not.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	reqBody, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.bearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.bearerToken)
		} else {
			req.Header.Set("Authorization", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &transientError{fmt.Errorf("request failed: %w", err)}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{fmt.Errorf("failed to read response: %w", err)}
		}

		if resp.StatusCode >= 500 {
			return &transientError{fmt.Errorf("Linear API error: %s - %s", resp.Status, string(body))}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("Linear API error: %s - %s", resp.Status, string(body)))
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if len(envelope.Errors) > 0 {
			return backoff.Permanent(fmt.Errorf("Linear API error: %s", envelope.Errors[0].Message))
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode data: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}
	return nil
}

const issueFields = `
	id
	identifier
	title
	description
	team { id name key }
	project { id name }
	labels { nodes { id name } }
`

// wireIssue is the GraphQL shape of an issue; labels arrive as a connection.
type wireIssue struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Team        *Team    `json:"team"`
	Project     *Project `json:"project"`
	Labels      *struct {
		Nodes []Label `json:"nodes"`
	} `json:"labels"`
}

func (w *wireIssue) toIssue() Issue {
	issue := Issue{
		ID:          w.ID,
		Identifier:  w.Identifier,
		Title:       w.Title,
		Description: w.Description,
		Team:        w.Team,
		Project:     w.Project,
	}
	if w.Labels != nil {
		issue.Labels = w.Labels.Nodes
	}
	return issue
}

// CreateIssue creates a new issue on the configured team.
func (c *Client) CreateIssue(ctx context.Context, req CreateIssueRequest) (*IssueRef, error) {
	input := map[string]interface{}{
		"teamId":      req.TeamID,
		"title":       req.Title,
		"description": req.Description,
	}
	if req.ProjectID != "" {
		input["projectId"] = req.ProjectID
	}
	if len(req.LabelIDs) > 0 {
		input["labelIds"] = req.LabelIDs
	}

	query := `mutation IssueCreate($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue { id identifier }
		}
	}`

	var result struct {
		IssueCreate struct {
			Success bool     `json:"success"`
			Issue   IssueRef `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.doQuery(ctx, query, map[string]interface{}{"input": input}, &result); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	if !result.IssueCreate.Success {
		return nil, fmt.Errorf("failed to create issue: mutation reported failure")
	}
	return &result.IssueCreate.Issue, nil
}

// UpdateIssue replaces an issue's title and description.
func (c *Client) UpdateIssue(ctx context.Context, issueID, title, description string) (*IssueRef, error) {
	query := `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) {
			success
			issue { id identifier }
		}
	}`

	var result struct {
		IssueUpdate struct {
			Success bool     `json:"success"`
			Issue   IssueRef `json:"issue"`
		} `json:"issueUpdate"`
	}
	vars := map[string]interface{}{
		"id": issueID,
		"input": map[string]interface{}{
			"title":       title,
			"description": description,
		},
	}
	if err := c.doQuery(ctx, query, vars, &result); err != nil {
		return nil, fmt.Errorf("failed to update issue %s: %w", issueID, err)
	}
	if !result.IssueUpdate.Success {
		return nil, fmt.Errorf("failed to update issue %s: mutation reported failure", issueID)
	}
	return &result.IssueUpdate.Issue, nil
}

// GetIssue fetches a single issue by id.
func (c *Client) GetIssue(ctx context.Context, issueID string) (*Issue, error) {
	query := fmt.Sprintf(`query Issue($id: String!) {
		issue(id: $id) { %s }
	}`, issueFields)

	var result struct {
		Issue *wireIssue `json:"issue"`
	}
	if err := c.doQuery(ctx, query, map[string]interface{}{"id": issueID}, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", issueID, err)
	}
	if result.Issue == nil {
		return nil, fmt.Errorf("failed to fetch issue %s: not found", issueID)
	}
	issue := result.Issue.toIssue()
	return &issue, nil
}

// ListIssues fetches a bounded page of issues.
func (c *Client) ListIssues(ctx context.Context, limit int) ([]Issue, error) {
	query := fmt.Sprintf(`query Issues($first: Int!) {
		issues(first: $first) {
			nodes { %s }
		}
	}`, issueFields)

	var result struct {
		Issues struct {
			Nodes []wireIssue `json:"nodes"`
		} `json:"issues"`
	}
	if err := c.doQuery(ctx, query, map[string]interface{}{"first": limit}, &result); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}

	issues := make([]Issue, 0, len(result.Issues.Nodes))
	for i := range result.Issues.Nodes {
		issues = append(issues, result.Issues.Nodes[i].toIssue())
	}
	return issues, nil
}

// ResolveLabelID looks up a team label by name. Returns "" when the label
// does not exist.
func (c *Client) ResolveLabelID(ctx context.Context, teamID, labelName string) (string, error) {
	query := `query Labels($teamId: ID!, $name: String!) {
		issueLabels(filter: { team: { id: { eq: $teamId } }, name: { eq: $name } }) {
			nodes { id name }
		}
	}`

	var result struct {
		IssueLabels struct {
			Nodes []Label `json:"nodes"`
		} `json:"issueLabels"`
	}
	vars := map[string]interface{}{"teamId": teamID, "name": labelName}
	if err := c.doQuery(ctx, query, vars, &result); err != nil {
		return "", fmt.Errorf("failed to resolve label %q: %w", labelName, err)
	}
	if len(result.IssueLabels.Nodes) == 0 {
		return "", nil
	}
	return result.IssueLabels.Nodes[0].ID, nil
}

// RequestUploadSlot asks for a presigned upload destination.
func (c *Client) RequestUploadSlot(ctx context.Context, contentType, filename string, size int64) (*UploadSlot, error) {
	query := `mutation FileUpload($contentType: String!, $filename: String!, $size: Int!) {
		fileUpload(contentType: $contentType, filename: $filename, size: $size) {
			success
			uploadFile {
				uploadUrl
				assetUrl
				headers { key value }
			}
		}
	}`

	var result struct {
		FileUpload struct {
			Success    bool `json:"success"`
			UploadFile *struct {
				UploadURL string `json:"uploadUrl"`
				AssetURL  string `json:"assetUrl"`
				Headers   []struct {
					Key   string `json:"key"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"uploadFile"`
		} `json:"fileUpload"`
	}
	vars := map[string]interface{}{
		"contentType": contentType,
		"filename":    filename,
		"size":        size,
	}
	if err := c.doQuery(ctx, query, vars, &result); err != nil {
		return nil, fmt.Errorf("failed to request upload slot: %w", err)
	}
	if !result.FileUpload.Success || result.FileUpload.UploadFile == nil {
		return nil, fmt.Errorf("failed to request upload slot: mutation reported failure")
	}

	slot := &UploadSlot{
		UploadURL: result.FileUpload.UploadFile.UploadURL,
		AssetURL:  result.FileUpload.UploadFile.AssetURL,
		Headers:   make(map[string]string),
	}
	for _, h := range result.FileUpload.UploadFile.Headers {
		slot.Headers[h.Key] = h.Value
	}
	return slot, nil
}

// UploadAsset PUTs file bytes to a presigned slot.
func (c *Client) UploadAsset(ctx context.Context, slot *UploadSlot, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range slot.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed: %s - %s", resp.Status, string(body))
	}
	return nil
}

// CreateAttachment registers an uploaded asset as an issue attachment.
func (c *Client) CreateAttachment(ctx context.Context, issueID, title, assetURL string) (string, error) {
	query := `mutation AttachmentCreate($input: AttachmentCreateInput!) {
		attachmentCreate(input: $input) {
			success
			attachment { id }
		}
	}`

	var result struct {
		AttachmentCreate struct {
			Success    bool `json:"success"`
			Attachment struct {
				ID string `json:"id"`
			} `json:"attachment"`
		} `json:"attachmentCreate"`
	}
	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"issueId": issueID,
			"title":   title,
			"url":     assetURL,
		},
	}
	if err := c.doQuery(ctx, query, vars, &result); err != nil {
		return "", fmt.Errorf("failed to create attachment: %w", err)
	}
	if !result.AttachmentCreate.Success {
		return "", fmt.Errorf("failed to create attachment: mutation reported failure")
	}
	return result.AttachmentCreate.Attachment.ID, nil
}

// ArchiveIssue archives a remote issue.
func (c *Client) ArchiveIssue(ctx context.Context, issueID string) error {
	query := `mutation IssueArchive($id: String!) {
		issueArchive(id: $id) { success }
	}`

	var result struct {
		IssueArchive struct {
			Success bool `json:"success"`
		} `json:"issueArchive"`
	}
	if err := c.doQuery(ctx, query, map[string]interface{}{"id": issueID}, &result); err != nil {
		return fmt.Errorf("failed to archive issue %s: %w", issueID, err)
	}
	if !result.IssueArchive.Success {
		return fmt.Errorf("failed to archive issue %s: mutation reported failure", issueID)
	}
	return nil
}
