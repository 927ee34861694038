package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dataDirOverride = dir
	t.Cleanup(func() { dataDirOverride = "" })
	return dir
}

func TestLoad_missingFileReturnsDefaults(t *testing.T) {
	dir := withTempDataDir(t)

	cfg, err := Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model == "" {
		t.Error("expected default model")
	}
	if cfg.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", cfg.MaxTokens)
	}
	if !cfg.Memory.Enabled {
		t.Error("memory should default to enabled")
	}
	if !cfg.Checkpoints.Enabled {
		t.Error("checkpoints should default to enabled")
	}
	if cfg.Compaction.Strategy != "summarize" {
		t.Errorf("Compaction.Strategy = %q, want summarize", cfg.Compaction.Strategy)
	}
	if cfg.Compaction.ThresholdTokens != 80_000 {
		t.Errorf("ThresholdTokens = %d, want 80000", cfg.Compaction.ThresholdTokens)
	}
	if cfg.Compaction.ProtectedTailMessages != 6 {
		t.Errorf("ProtectedTailMessages = %d, want 6", cfg.Compaction.ProtectedTailMessages)
	}
	if cfg.Memory.DBPath != filepath.Join(dir, "memory.db") {
		t.Errorf("DBPath = %q", cfg.Memory.DBPath)
	}
	if cfg.SummaryModel != cfg.Model {
		t.Errorf("SummaryModel = %q, want %q", cfg.SummaryModel, cfg.Model)
	}
	if !filepath.IsAbs(cfg.WorkingDirectory) {
		t.Errorf("WorkingDirectory = %q, want absolute", cfg.WorkingDirectory)
	}
}

func TestLoad_overridesAndDefaultsMerge(t *testing.T) {
	dir := withTempDataDir(t)
	path := filepath.Join(dir, "config.json")

	body := `{
		"model": "claude-haiku-x",
		"max_tokens": 1024,
		"compaction": {"strategy": "none"},
		"memory": {"enabled": false},
		"voice": {"chunk_seconds": 5}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "claude-haiku-x" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if cfg.Compaction.Strategy != "none" {
		t.Errorf("Strategy = %q", cfg.Compaction.Strategy)
	}
	if cfg.Memory.Enabled {
		t.Error("memory.enabled should be false")
	}
	if cfg.Voice.ChunkSeconds != 5 {
		t.Errorf("ChunkSeconds = %v", cfg.Voice.ChunkSeconds)
	}
	// Unset keys keep defaults.
	if cfg.Voice.EndpointingMs != 500 {
		t.Errorf("EndpointingMs = %d, want 500", cfg.Voice.EndpointingMs)
	}
	if cfg.Voice.UtteranceEndMs != 1500 {
		t.Errorf("UtteranceEndMs = %d, want 1500", cfg.Voice.UtteranceEndMs)
	}
}

func TestLoad_rejectsUnknownCompactionStrategy(t *testing.T) {
	dir := withTempDataDir(t)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"compaction":{"strategy":"zip"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := withTempDataDir(t)
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Default()
	cfg.Model = "test-model"
	cfg.MCPServers = map[string]MCPServer{
		"notes": {Transport: "stdio", Command: "notes-server", Args: []string{"--db", "x"}},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Model != "test-model" {
		t.Errorf("Model = %q", got.Model)
	}
	srv, ok := got.MCPServers["notes"]
	if !ok {
		t.Fatal("missing mcp server after reload")
	}
	if srv.Transport != "stdio" || srv.Command != "notes-server" {
		t.Errorf("server = %+v", srv)
	}
}

func TestLogger_nilSafe(t *testing.T) {
	var l *Logger
	l.Printf("should not panic: %d", 1)
	l.Close()

	empty := &Logger{}
	empty.Printf("no file open: %s", "ok")
	empty.Close()
}
