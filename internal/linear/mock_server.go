package linear

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockServer provides a fake Linear GraphQL API for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	issues   map[string]*Issue
	order    []string // issue ids in creation order
	nextNum  int
	labels   map[string]map[string]string // teamID -> label name -> label id
	uploads  map[string][]byte            // upload path -> bytes
	archived map[string]bool

	// FailUpdates lists issue ids whose issueUpdate mutation should fail.
	FailUpdates map[string]bool
}

// NewMockServer creates a mock Linear API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		issues:      make(map[string]*Issue),
		nextNum:     1,
		labels:      make(map[string]map[string]string),
		uploads:     make(map[string][]byte),
		archived:    make(map[string]bool),
		FailUpdates: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", m.handleGraphQL)
	mux.HandleFunc("/upload/", m.handleUpload)

	m.Server = httptest.NewServer(mux)
	return m
}

// Endpoint returns the GraphQL endpoint URL of the mock.
func (m *MockServer) Endpoint() string {
	return m.URL + "/graphql"
}

// AddIssue seeds an issue and returns its id.
func (m *MockServer) AddIssue(issue Issue) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.ID == "" {
		issue.ID = fmt.Sprintf("iss_%d", m.nextNum)
	}
	if issue.Identifier == "" {
		issue.Identifier = fmt.Sprintf("ENG-%d", m.nextNum)
	}
	m.nextNum++
	m.issues[issue.ID] = &issue
	m.order = append(m.order, issue.ID)
	return issue.ID
}

// AddLabel seeds a team label and returns its id.
func (m *MockServer) AddLabel(teamID, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.labels[teamID] == nil {
		m.labels[teamID] = make(map[string]string)
	}
	id := fmt.Sprintf("lbl_%d", len(m.labels[teamID])+1)
	m.labels[teamID][name] = id
	return id
}

// Issue retrieves a stored issue (for test assertions).
func (m *MockServer) Issue(id string) *Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issues[id]
}

// IssueCount returns the number of stored issues.
func (m *MockServer) IssueCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.issues)
}

// Archived reports whether an issue was archived.
func (m *MockServer) Archived(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.archived[id]
}

// UploadedBytes returns the bytes received for the nth upload slot.
func (m *MockServer) UploadedBytes(n int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads[fmt.Sprintf("/upload/%d", n)]
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func (m *MockServer) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "issueCreate"):
		m.handleIssueCreate(w, req)
	case strings.Contains(req.Query, "issueUpdate"):
		m.handleIssueUpdate(w, req)
	case strings.Contains(req.Query, "issueArchive"):
		m.handleIssueArchive(w, req)
	case strings.Contains(req.Query, "attachmentCreate"):
		m.handleAttachmentCreate(w, req)
	case strings.Contains(req.Query, "fileUpload"):
		m.handleFileUpload(w, req)
	case strings.Contains(req.Query, "issueLabels"):
		m.handleIssueLabels(w, req)
	case strings.Contains(req.Query, "issues("):
		m.handleListIssues(w, req)
	case strings.Contains(req.Query, "issue("):
		m.handleGetIssue(w, req)
	default:
		writeGraphQLError(w, "unsupported query")
	}
}

func (m *MockServer) handleIssueCreate(w http.ResponseWriter, req graphQLRequest) {
	input, _ := req.Variables["input"].(map[string]interface{})
	teamID, _ := input["teamId"].(string)
	title, _ := input["title"].(string)
	description, _ := input["description"].(string)

	issue := &Issue{
		ID:          fmt.Sprintf("iss_%d", m.nextNum),
		Identifier:  fmt.Sprintf("ENG-%d", m.nextNum),
		Title:       title,
		Description: description,
		Team:        &Team{ID: teamID, Name: "Engineering", Key: "ENG"},
	}
	m.nextNum++

	if projectID, ok := input["projectId"].(string); ok && projectID != "" {
		issue.Project = &Project{ID: projectID, Name: "Mock Project"}
	}
	if labelIDs, ok := input["labelIds"].([]interface{}); ok {
		for _, raw := range labelIDs {
			if id, ok := raw.(string); ok {
				issue.Labels = append(issue.Labels, Label{ID: id, Name: m.labelName(id)})
			}
		}
	}

	m.issues[issue.ID] = issue
	m.order = append(m.order, issue.ID)

	writeGraphQLData(w, map[string]interface{}{
		"issueCreate": map[string]interface{}{
			"success": true,
			"issue":   IssueRef{ID: issue.ID, Identifier: issue.Identifier},
		},
	})
}

func (m *MockServer) handleIssueUpdate(w http.ResponseWriter, req graphQLRequest) {
	id, _ := req.Variables["id"].(string)
	if m.FailUpdates[id] {
		writeGraphQLError(w, fmt.Sprintf("simulated failure updating %s", id))
		return
	}

	issue, ok := m.issues[id]
	if !ok {
		writeGraphQLError(w, fmt.Sprintf("issue %s not found", id))
		return
	}

	input, _ := req.Variables["input"].(map[string]interface{})
	if title, ok := input["title"].(string); ok {
		issue.Title = title
	}
	if description, ok := input["description"].(string); ok {
		issue.Description = description
	}

	writeGraphQLData(w, map[string]interface{}{
		"issueUpdate": map[string]interface{}{
			"success": true,
			"issue":   IssueRef{ID: issue.ID, Identifier: issue.Identifier},
		},
	})
}

func (m *MockServer) handleIssueArchive(w http.ResponseWriter, req graphQLRequest) {
	id, _ := req.Variables["id"].(string)
	if _, ok := m.issues[id]; !ok {
		writeGraphQLError(w, fmt.Sprintf("issue %s not found", id))
		return
	}
	m.archived[id] = true

	writeGraphQLData(w, map[string]interface{}{
		"issueArchive": map[string]interface{}{"success": true},
	})
}

func (m *MockServer) handleAttachmentCreate(w http.ResponseWriter, req graphQLRequest) {
	input, _ := req.Variables["input"].(map[string]interface{})
	issueID, _ := input["issueId"].(string)
	if _, ok := m.issues[issueID]; !ok {
		writeGraphQLError(w, fmt.Sprintf("issue %s not found", issueID))
		return
	}

	writeGraphQLData(w, map[string]interface{}{
		"attachmentCreate": map[string]interface{}{
			"success":    true,
			"attachment": map[string]string{"id": fmt.Sprintf("att_%d", m.nextNum)},
		},
	})
	m.nextNum++
}

func (m *MockServer) handleFileUpload(w http.ResponseWriter, req graphQLRequest) {
	slot := m.nextNum
	m.nextNum++

	writeGraphQLData(w, map[string]interface{}{
		"fileUpload": map[string]interface{}{
			"success": true,
			"uploadFile": map[string]interface{}{
				"uploadUrl": fmt.Sprintf("%s/upload/%d", m.URL, slot),
				"assetUrl":  fmt.Sprintf("%s/assets/%d", m.URL, slot),
				"headers": []map[string]string{
					{"key": "x-mock-upload", "value": "1"},
				},
			},
		},
	})
}

func (m *MockServer) handleIssueLabels(w http.ResponseWriter, req graphQLRequest) {
	teamID, _ := req.Variables["teamId"].(string)
	name, _ := req.Variables["name"].(string)

	nodes := []Label{}
	if id, ok := m.labels[teamID][name]; ok {
		nodes = append(nodes, Label{ID: id, Name: name})
	}

	writeGraphQLData(w, map[string]interface{}{
		"issueLabels": map[string]interface{}{"nodes": nodes},
	})
}

func (m *MockServer) handleListIssues(w http.ResponseWriter, req graphQLRequest) {
	limit := len(m.order)
	if first, ok := req.Variables["first"].(float64); ok && int(first) < limit {
		limit = int(first)
	}

	nodes := []interface{}{}
	for _, id := range m.order {
		if len(nodes) >= limit {
			break
		}
		if m.archived[id] {
			continue
		}
		nodes = append(nodes, issueToWire(m.issues[id]))
	}

	writeGraphQLData(w, map[string]interface{}{
		"issues": map[string]interface{}{"nodes": nodes},
	})
}

func (m *MockServer) handleGetIssue(w http.ResponseWriter, req graphQLRequest) {
	id, _ := req.Variables["id"].(string)
	issue, ok := m.issues[id]
	if !ok {
		writeGraphQLError(w, fmt.Sprintf("issue %s not found", id))
		return
	}

	writeGraphQLData(w, map[string]interface{}{"issue": issueToWire(issue)})
}

func (m *MockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusInternalServerError)
		return
	}

	m.mu.Lock()
	m.uploads[r.URL.Path] = data
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (m *MockServer) labelName(id string) string {
	for _, names := range m.labels {
		for name, labelID := range names {
			if labelID == id {
				return name
			}
		}
	}
	return ""
}

// issueToWire renders an issue in the GraphQL response shape, with labels
// as a connection.
func issueToWire(issue *Issue) map[string]interface{} {
	wire := map[string]interface{}{
		"id":          issue.ID,
		"identifier":  issue.Identifier,
		"title":       issue.Title,
		"description": issue.Description,
		"labels":      map[string]interface{}{"nodes": issue.Labels},
	}
	if issue.Team != nil {
		wire["team"] = issue.Team
	}
	if issue.Project != nil {
		wire["project"] = issue.Project
	}
	return wire
}

func writeGraphQLData(w http.ResponseWriter, data map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeGraphQLError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]string{{"message": message}},
	})
}
