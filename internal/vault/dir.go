package vault

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// createManifestSQL defines the schema for the artifact manifest.
const createManifestSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'note',
    mime_type TEXT,
    tags TEXT,  -- JSON array of tag names
    created_at TEXT,
    updated_at TEXT
);
`

// Dir is a file-backed Source: artifact content lives in files under a root
// directory and a SQLite manifest under .linearsync/ records identity and
// metadata.
type Dir struct {
	root string
	conn *sql.DB
}

// Open opens (or initializes) the vault rooted at dir.
func Open(dir string) (*Dir, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}

	metaDir := filepath.Join(absRoot, ".linearsync")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault metadata directory: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(metaDir, "manifest.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	// SQLite only supports a single writer; one connection avoids
	// "database is locked" errors.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(createManifestSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create artifacts table: %w", err)
	}

	return &Dir{root: absRoot, conn: conn}, nil
}

// Close closes the manifest database.
func (d *Dir) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Root returns the vault root directory.
func (d *Dir) Root() string {
	return d.root
}

const manifestColumns = "id, name, path, kind, mime_type, tags, created_at, updated_at"

// ListArtifacts returns all artifacts ordered by name then id.
func (d *Dir) ListArtifacts() ([]Artifact, error) {
	rows, err := d.conn.Query(fmt.Sprintf(
		"SELECT %s FROM artifacts ORDER BY name ASC, id ASC", manifestColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []Artifact{}
	for rows.Next() {
		a, _, err := d.scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// GetArtifact returns the artifact with the given id, or nil if unknown.
func (d *Dir) GetArtifact(id string) (*Artifact, error) {
	row := d.conn.QueryRow(fmt.Sprintf(
		"SELECT %s FROM artifacts WHERE id = ?", manifestColumns), id)
	a, _, err := d.scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ArtifactPath returns the absolute path backing an artifact.
func (d *Dir) ArtifactPath(a *Artifact) string {
	relPath, err := d.relPath(a.ID)
	if err != nil {
		return ""
	}
	return filepath.Join(d.root, relPath)
}

func (d *Dir) relPath(id string) (string, error) {
	var relPath string
	err := d.conn.QueryRow("SELECT path FROM artifacts WHERE id = ?", id).Scan(&relPath)
	if err != nil {
		return "", err
	}
	return relPath, nil
}

// CreateArtifact creates a new artifact file and manifest row.
func (d *Dir) CreateArtifact(req CreateRequest) (*Artifact, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("artifact name cannot be empty")
	}

	kind := req.Kind
	if kind == "" {
		kind = KindNote
	}

	relPath, err := d.uniquePath(req.Name, kind)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(d.root, relPath)
	if err := os.WriteFile(fullPath, []byte(req.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write artifact file: %w", err)
	}

	tagsJSON, err := json.Marshal(append([]string{}, req.Tags...))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	id := uuid.NewString()

	_, err = d.conn.Exec(`
		INSERT INTO artifacts (id, name, path, kind, mime_type, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		req.Name,
		relPath,
		kind,
		sql.NullString{String: req.MimeType, Valid: req.MimeType != ""},
		string(tagsJSON),
		now,
		now,
	)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to insert artifact: %w", err)
	}

	return d.GetArtifact(id)
}

// UpdateArtifact applies the given updates. Returns nil if the artifact
// does not exist. Content updates rewrite the backing file.
func (d *Dir) UpdateArtifact(id string, req UpdateRequest) (*Artifact, error) {
	existing, err := d.GetArtifact(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	var setClauses []string
	var args []interface{}

	if req.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *req.Name)
	}
	if req.MimeType != nil {
		setClauses = append(setClauses, "mime_type = ?")
		args = append(args, *req.MimeType)
	}
	if req.Tags != nil {
		tagsJSON, err := json.Marshal(*req.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		setClauses = append(setClauses, "tags = ?")
		args = append(args, string(tagsJSON))
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)

	// Write content before the manifest row so a file-write failure never
	// leaves the manifest advanced over stale content.
	if req.Content != nil {
		relPath, err := d.relPath(id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve artifact path: %w", err)
		}
		if err := os.WriteFile(filepath.Join(d.root, relPath), []byte(*req.Content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write artifact file: %w", err)
		}
	}

	query := fmt.Sprintf("UPDATE artifacts SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := d.conn.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update artifact: %w", err)
	}

	return d.GetArtifact(id)
}

// CreateConflictCopy snapshots an artifact's current content into a new
// conflict-tagged artifact named "<name> (conflict)". Returns nil if the
// original no longer exists.
func (d *Dir) CreateConflictCopy(req ConflictCopyRequest) (*Artifact, error) {
	orig, err := d.GetArtifact(req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, nil
	}

	return d.CreateArtifact(CreateRequest{
		Name:     orig.Name + " (conflict)",
		Content:  orig.Content,
		Kind:     orig.Kind,
		MimeType: orig.MimeType,
		Tags:     append(append([]string{}, orig.Tags...), TagConflict),
	})
}

// uniquePath derives a filesystem-safe relative path for a new artifact,
// suffixing a counter when the name is already taken.
func (d *Dir) uniquePath(name, kind string) (string, error) {
	base := sanitizeName(name)
	ext := ".md"
	if kind != KindNote {
		ext = ""
		if e := filepath.Ext(base); e != "" {
			ext = e
			base = strings.TrimSuffix(base, e)
		}
	}

	for i := 0; ; i++ {
		candidate := base + ext
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		if _, err := os.Stat(filepath.Join(d.root, candidate)); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to stat candidate path: %w", err)
		}
	}
}

// sanitizeName maps an artifact name to a safe file name.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"\x00", "",
	)
	s := strings.TrimSpace(replacer.Replace(name))
	if s == "" {
		s = "untitled"
	}
	return s
}

// scanner abstracts *sql.Row and *sql.Rows for scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanArtifact reads one manifest row and loads note content from disk.
// The artifact's UpdatedAt is the backing file's mtime when the file exists,
// so edits made outside this process (the normal case for a vault) are
// visible to the sync engine.
func (d *Dir) scanArtifact(s scanner) (*Artifact, string, error) {
	var a Artifact
	var relPath string
	var mimeType, tags, createdAt, updatedAt sql.NullString

	err := s.Scan(&a.ID, &a.Name, &relPath, &a.Kind, &mimeType, &tags, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan artifact: %w", err)
	}

	a.MimeType = mimeType.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &a.Tags); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if createdAt.Valid {
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	if updatedAt.Valid {
		a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	fullPath := filepath.Join(d.root, relPath)
	if info, err := os.Stat(fullPath); err == nil {
		if info.ModTime().After(a.UpdatedAt) {
			a.UpdatedAt = info.ModTime()
		}
		if a.Kind == KindNote {
			content, err := os.ReadFile(fullPath)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read artifact file: %w", err)
			}
			a.Content = string(content)
		}
	}

	return &a, relPath, nil
}
