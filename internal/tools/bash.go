package tools

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/voxlabs/voxd/internal/provider"
)

const bashTimeout = 30 * time.Second

func bashTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "bash",
			Description: "Execute a bash command and return its output (stdout + stderr).",
			Properties: map[string]provider.ToolProp{
				"command": {Type: "string", Description: "The bash command to execute"},
			},
			Required: []string{"command"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc *ToolContext) (string, error) {
			command, ok := input["command"].(string)
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}

			cmdCtx, cancel := context.WithTimeout(ctx, bashTimeout)
			defer cancel()

			var cmd *exec.Cmd
			if runtime.GOOS == "windows" {
				cmd = exec.CommandContext(cmdCtx, "cmd", "/C", command)
			} else {
				cmd = exec.CommandContext(cmdCtx, "sh", "-c", command)
			}
			if tc != nil && tc.Cwd != "" {
				cmd.Dir = tc.Cwd
			}

			out, err := cmd.CombinedOutput()
			if cmdCtx.Err() == context.DeadlineExceeded {
				return fmt.Sprintf("[timed out after %ds]", int(bashTimeout.Seconds())), nil
			}
			output := string(out)
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return fmt.Sprintf("%s\n[exit code %d]", output, exitErr.ExitCode()), nil
				}
				return "", fmt.Errorf("executing command: %w", err)
			}
			return strings.TrimRight(output, " \t\r\n"), nil
		},
	}
}
