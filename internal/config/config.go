package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// dataDirOverride is set by tests to redirect DataDir.
var dataDirOverride string

// DataDir returns ~/.local/share/voxd, creating it if needed.
func DataDir() (string, error) {
	if dataDirOverride != "" {
		return dataDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "share", "voxd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// MCPServer configures one external tool server.
type MCPServer struct {
	Transport string            `json:"transport"` // "stdio" or "http"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// CompactionConfig selects and tunes the compaction strategy.
type CompactionConfig struct {
	Strategy              string `json:"strategy"` // "none" or "summarize"
	ThresholdTokens       int    `json:"threshold_tokens"`
	ProtectedTailMessages int    `json:"protected_tail_messages"`
}

// MemoryConfig controls the durable store.
type MemoryConfig struct {
	Enabled               bool   `json:"enabled"`
	DBPath                string `json:"db_path,omitempty"`
	MaxSessions           int    `json:"max_sessions"`
	MaxMessagesPerSession int    `json:"max_messages_per_session"`
	RetentionDays         int    `json:"retention_days"`
}

// CheckpointConfig controls per-turn file checkpointing.
type CheckpointConfig struct {
	Enabled        bool `json:"enabled"`
	WriteToolsOnly bool `json:"write_tools_only"`
}

// SessionConfig selects the session to open at startup.
type SessionConfig struct {
	ResumeSessionID      string `json:"resume_session_id,omitempty"`
	ContinueConversation bool   `json:"continue_conversation"`
	SessionID            string `json:"session_id,omitempty"`
	ForkSession          bool   `json:"fork_session"`
}

// VoiceConfig tunes the speech-to-text ingress.
type VoiceConfig struct {
	ChunkSeconds   float64 `json:"chunk_seconds"`
	EndpointingMs  int     `json:"endpointing_ms"`
	UtteranceEndMs int     `json:"utterance_end_ms"`
	PollIntervalMs int     `json:"poll_interval_ms"`
}

// Config is the full runtime configuration.
type Config struct {
	Model                   string               `json:"model"`
	SummaryModel            string               `json:"summary_model,omitempty"`
	MaxTokens               int                  `json:"max_tokens"`
	Temperature             float64              `json:"temperature"`
	SystemPrompt            string               `json:"system_prompt,omitempty"`
	MaxToolResultChars      int                  `json:"max_tool_result_chars"`
	MaxConversationMessages int                  `json:"max_conversation_messages"`
	WorkingDirectory        string               `json:"working_directory,omitempty"`
	Compaction              CompactionConfig     `json:"compaction"`
	Memory                  MemoryConfig         `json:"memory"`
	Checkpoints             CheckpointConfig     `json:"checkpoints"`
	Session                 SessionConfig        `json:"session"`
	Voice                   VoiceConfig          `json:"voice"`
	MCPServers              map[string]MCPServer `json:"mcp_servers,omitempty"`
}

// Default returns the configuration defaults. Loading unmarshals the config
// file over this value, so absent keys keep their defaults.
func Default() Config {
	return Config{
		Model:                   "claude-sonnet-4-20250514",
		MaxTokens:               8192,
		Temperature:             1.0,
		MaxToolResultChars:      50_000,
		MaxConversationMessages: 200,
		Compaction: CompactionConfig{
			Strategy:              "summarize",
			ThresholdTokens:       80_000,
			ProtectedTailMessages: 6,
		},
		Memory: MemoryConfig{
			Enabled:               true,
			MaxSessions:           200,
			MaxMessagesPerSession: 2000,
			RetentionDays:         90,
		},
		Checkpoints: CheckpointConfig{
			Enabled:        true,
			WriteToolsOnly: true,
		},
		Voice: VoiceConfig{
			ChunkSeconds:   3,
			EndpointingMs:  500,
			UtteranceEndMs: 1500,
			PollIntervalMs: 200,
		},
	}
}

// Load reads the config file at path, applying defaults for absent keys.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finalize(cfg)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return finalize(cfg)
}

// Save writes the config as indented JSON with owner-only permissions.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func finalize(cfg Config) (Config, error) {
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.WorkingDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.WorkingDirectory = wd
	}
	abs, err := filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return cfg, fmt.Errorf("resolve working directory: %w", err)
	}
	cfg.WorkingDirectory = abs
	if cfg.Memory.DBPath == "" {
		dir, err := DataDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.Memory.DBPath = filepath.Join(dir, "memory.db")
	}
	switch cfg.Compaction.Strategy {
	case "", "none", "summarize":
	default:
		return cfg, fmt.Errorf("unknown compaction strategy %q", cfg.Compaction.Strategy)
	}
	return cfg, nil
}
