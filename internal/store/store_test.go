package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	s := Load(filepath.Join(tmpDir, "mapping.json"))

	if s.Len() != 0 {
		t.Errorf("Load on missing file: Len() = %d, want 0", s.Len())
	}
	if _, ok := s.Get("a1"); ok {
		t.Error("Get on empty store should report not found")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", "{not json"},
		{"missing artifacts key", `{"other": {}}`},
		{"wrong artifacts type", `{"artifacts": []}`},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "mapping.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write file: %v", err)
			}

			s := Load(path)
			if s.Len() != 0 {
				t.Errorf("Load(%s): Len() = %d, want empty mapping", tt.name, s.Len())
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mapping.json")

	s := Load(path)
	s.Set("a1", MappingEntry{
		IssueID:      "iss_1",
		Identifier:   "ENG-42",
		TeamID:       "team_1",
		TeamName:     "Engineering",
		LastPushedAt: "2026-08-29T10:00:00Z",
	})
	s.Set("a2", MappingEntry{IssueID: "iss_2", Identifier: "ENG-43"})
	s.AppendConflict(ConflictRecord{
		ArtifactID: "a1",
		Source:     "remote",
		CopyID:     "a9",
		CreatedAt:  "2026-08-29T10:05:00Z",
	})

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := Load(path)
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len() = %d, want 2", reloaded.Len())
	}

	e, ok := reloaded.Get("a1")
	if !ok {
		t.Fatal("reloaded store missing entry for a1")
	}
	if e.IssueID != "iss_1" || e.Identifier != "ENG-42" || e.TeamName != "Engineering" {
		t.Errorf("reloaded entry = %+v, want original fields preserved", e)
	}
	if e.LastPushedAt != "2026-08-29T10:00:00Z" {
		t.Errorf("LastPushedAt = %q, want preserved timestamp", e.LastPushedAt)
	}

	conflicts := reloaded.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("reloaded conflicts = %d, want 1", len(conflicts))
	}
	if conflicts[0].ArtifactID != "a1" || conflicts[0].CopyID != "a9" {
		t.Errorf("reloaded conflict = %+v, want original record", conflicts[0])
	}
}

func TestSaveFileShape(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mapping.json")

	s := Load(path)
	s.Set("a1", MappingEntry{IssueID: "iss_1"})
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read mapping file: %v", err)
	}

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("mapping file is not valid JSON: %v", err)
	}
	artifacts, ok := raw["artifacts"]
	if !ok {
		t.Fatal("mapping file missing top-level artifacts key")
	}
	if _, ok := artifacts["a1"]; !ok {
		t.Error("mapping file missing entry keyed by artifact id")
	}
}

func TestUsedIssueIDs(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "mapping.json"))
	s.Set("a1", MappingEntry{IssueID: "iss_1"})
	s.Set("a2", MappingEntry{IssueID: "iss_2"})
	s.Set("a3", MappingEntry{})

	used := s.UsedIssueIDs()
	if len(used) != 2 {
		t.Fatalf("UsedIssueIDs returned %d ids, want 2", len(used))
	}
	if !used["iss_1"] || !used["iss_2"] {
		t.Errorf("UsedIssueIDs = %v, want iss_1 and iss_2", used)
	}
}

func TestDelete(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "mapping.json"))
	s.Set("a1", MappingEntry{IssueID: "iss_1"})
	s.Delete("a1")

	if _, ok := s.Get("a1"); ok {
		t.Error("entry should be gone after Delete")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Delete, want 0", s.Len())
	}
}

func TestArtifactIDsSorted(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "mapping.json"))
	s.Set("c", MappingEntry{IssueID: "3"})
	s.Set("a", MappingEntry{IssueID: "1"})
	s.Set("b", MappingEntry{IssueID: "2"})

	ids := s.ArtifactIDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("ArtifactIDs() = %v, want [a b c]", ids)
	}
}
