package mcp

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/voxlabs/voxd/internal/config"
)

// ServerConfig describes how to connect to a single MCP server, with
// environment placeholders already expanded.
type ServerConfig struct {
	Transport string            // "stdio" or "http"
	Command   string            // stdio: executable
	Args      []string          // stdio: arguments
	Env       map[string]string // stdio: env vars, merged over the parent env
	URL       string            // http: server URL
}

// FromConfig expands and validates the mcp_servers section of the runtime
// config. ${VAR} and ${VAR:-default} placeholders in commands, arguments,
// env values and URLs are resolved against the process environment.
func FromConfig(servers map[string]config.MCPServer) (map[string]ServerConfig, error) {
	out := make(map[string]ServerConfig, len(servers))
	for name, src := range servers {
		sc := ServerConfig{
			Transport: src.Transport,
			Command:   expandEnvVars(src.Command),
			URL:       expandEnvVars(src.URL),
		}
		for _, arg := range src.Args {
			sc.Args = append(sc.Args, expandEnvVars(arg))
		}
		if len(src.Env) > 0 {
			sc.Env = make(map[string]string, len(src.Env))
			for k, v := range src.Env {
				sc.Env[k] = expandEnvVars(v)
			}
		}
		if err := validateServerConfig(name, sc); err != nil {
			return nil, err
		}
		out[name] = sc
	}
	return out, nil
}

func validateServerConfig(name string, sc ServerConfig) error {
	switch sc.Transport {
	case "stdio", "":
		if sc.Command == "" {
			return fmt.Errorf("MCP server %q: stdio transport requires 'command'", name)
		}
	case "http":
		if sc.URL == "" {
			return fmt.Errorf("MCP server %q: http transport requires 'url'", name)
		}
	default:
		return fmt.Errorf("MCP server %q: unknown transport %q (expected 'stdio' or 'http')", name, sc.Transport)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// lookupEnvFunc returns (value, exists) for an environment variable.
// Override in tests to control the environment.
var lookupEnvFunc = os.LookupEnv

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		if len(groups) >= 3 {
			defaultVal = groups[2]
		}
		val, exists := lookupEnvFunc(varName)
		if exists {
			return val
		}
		return strings.TrimSpace(defaultVal)
	})
}
