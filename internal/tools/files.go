package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/voxlabs/voxd/internal/provider"
)

// resolvePath resolves a tool-supplied path against the working directory.
func resolvePath(path string, tc *ToolContext) string {
	if filepath.IsAbs(path) || tc == nil || tc.Cwd == "" {
		return path
	}
	return filepath.Join(tc.Cwd, path)
}

// pathsFromInput is the PredictTouchedPaths implementation shared by the
// file-mutating tools.
func pathsFromInput(input map[string]any) []string {
	if path, ok := input["path"].(string); ok && strings.TrimSpace(path) != "" {
		return []string{path}
	}
	return nil
}

func readFileTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "read_file",
			Description: "Read the contents of a file and return it as text. Supports plain text files and .pdf, .docx and .xlsx documents.",
			Properties: map[string]provider.ToolProp{
				"path": {Type: "string", Description: "Absolute or relative path to the file to read"},
			},
			Required: []string{"path"},
		},
		Execute: func(_ context.Context, input map[string]any, tc *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			path = resolvePath(path, tc)

			switch strings.ToLower(filepath.Ext(path)) {
			case ".pdf":
				return extractPDFText(path)
			case ".docx":
				return extractDocxText(path)
			case ".xlsx":
				return extractXlsxText(path)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", path, err)
			}
			return string(data), nil
		},
	}
}

func writeFileTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "write_file",
			Description: "Write content to a file, creating it if it doesn't exist.",
			Properties: map[string]provider.ToolProp{
				"path":    {Type: "string", Description: "Absolute or relative path to the file to write"},
				"content": {Type: "string", Description: "The content to write to the file"},
			},
			Required: []string{"path", "content"},
		},
		IsMutating:          true,
		PredictTouchedPaths: pathsFromInput,
		Execute: func(_ context.Context, input map[string]any, tc *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			content, _ := input["content"].(string)

			full := resolvePath(path, tc)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("creating directories: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("writing %s: %w", path, err)
			}
			return fmt.Sprintf("Successfully wrote to %s", path), nil
		},
	}
}

func appendFileTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name: "append_file",
			Description: "Append content to the end of a file. The file must already exist. " +
				"Use this to write large files in stages: create the file with write_file first, then append additional sections.",
			Properties: map[string]provider.ToolProp{
				"path":    {Type: "string", Description: "Absolute or relative path to the file to append to"},
				"content": {Type: "string", Description: "The content to append to the file"},
			},
			Required: []string{"path", "content"},
		},
		IsMutating:          true,
		PredictTouchedPaths: pathsFromInput,
		Execute: func(_ context.Context, input map[string]any, tc *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			content, _ := input["content"].(string)

			full := resolvePath(path, tc)
			if _, err := os.Stat(full); err != nil {
				return fmt.Sprintf("Error: file does not exist: %s. Use write_file to create it first.", path), nil
			}
			f, err := os.OpenFile(full, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return "", fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return "", fmt.Errorf("appending to %s: %w", path, err)
			}
			return fmt.Sprintf("Successfully appended to %s", path), nil
		},
	}
}

func editFileTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name: "edit_file",
			Description: "Replace exact text in a file. old_string must match exactly once, or set replace_all for bulk changes. " +
				"Read the file first to get the exact text to match.",
			Properties: map[string]provider.ToolProp{
				"path":        {Type: "string", Description: "Absolute or relative path to the file to edit"},
				"old_string":  {Type: "string", Description: "Exact text to find"},
				"new_string":  {Type: "string", Description: "Text to replace it with"},
				"replace_all": {Type: "boolean", Description: "Replace all occurrences instead of requiring exactly one (default: false)"},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
		IsMutating:          true,
		PredictTouchedPaths: pathsFromInput,
		Execute: func(_ context.Context, input map[string]any, tc *ToolContext) (string, error) {
			path, ok := input["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			oldStr, ok := input["old_string"].(string)
			if !ok || oldStr == "" {
				return "", fmt.Errorf("old_string is required")
			}
			newStr, _ := input["new_string"].(string)
			replaceAll, _ := input["replace_all"].(bool)

			full := resolvePath(path, tc)
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", path, err)
			}
			content := string(data)

			count := strings.Count(content, oldStr)
			if count == 0 {
				return "", fmt.Errorf("old_string not found in %s", path)
			}
			if !replaceAll && count > 1 {
				return "", fmt.Errorf("old_string found %d times in %s (must match exactly once, or set replace_all)", count, path)
			}

			var updated string
			replaced := count
			if replaceAll {
				updated = strings.ReplaceAll(content, oldStr, newStr)
			} else {
				updated = strings.Replace(content, oldStr, newStr, 1)
				replaced = 1
			}

			if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
				return "", fmt.Errorf("writing %s: %w", path, err)
			}

			added, removed := diffStat(content, updated)
			return fmt.Sprintf("Edited %s: replaced %d occurrence(s), +%d/-%d chars", path, replaced, added, removed), nil
		},
	}
}

// diffStat returns the inserted and deleted character counts between two
// versions of a file.
func diffStat(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return added, removed
}

// hiddenDirs is the set of directory names skipped during listing.
var hiddenDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".idea": true, ".vscode": true,
	"node_modules": true, "__pycache__": true, ".DS_Store": true,
}

func listFilesTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "list_files",
			Description: "List files and directories in a path. Directories have a / suffix. Skips .git, node_modules, and other generated directories.",
			Properties: map[string]provider.ToolProp{
				"path":      {Type: "string", Description: "Directory path to list (default: working directory)"},
				"recursive": {Type: "boolean", Description: "List files recursively (default: false)"},
			},
			Required: []string{},
		},
		Execute: func(_ context.Context, input map[string]any, tc *ToolContext) (string, error) {
			dirPath := "."
			if v, ok := input["path"].(string); ok && v != "" {
				dirPath = v
			}
			dirPath = resolvePath(dirPath, tc)
			recursive, _ := input["recursive"].(bool)

			info, err := os.Stat(dirPath)
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", dirPath, err)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dirPath)
			}

			const maxEntries = 500
			var results []string
			if recursive {
				results, err = listRecursive(dirPath, maxEntries)
			} else {
				results, err = listFlat(dirPath, maxEntries)
			}
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No entries found.", nil
			}
			out := strings.Join(results, "\n")
			if len(results) >= maxEntries {
				out += fmt.Sprintf("\n... (truncated at %d entries)", maxEntries)
			}
			return out, nil
		},
	}
}

func listFlat(dirPath string, maxEntries int) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dirPath, err)
	}
	var results []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || hiddenDirs[name] {
			continue
		}
		if e.IsDir() {
			results = append(results, name+"/")
		} else {
			results = append(results, name)
		}
		if len(results) >= maxEntries {
			break
		}
	}
	return results, nil
}

func listRecursive(dirPath string, maxEntries int) ([]string, error) {
	var results []string
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if path != dirPath && (strings.HasPrefix(name, ".") || hiddenDirs[name]) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == dirPath {
			return nil
		}
		rel, rerr := filepath.Rel(dirPath, path)
		if rerr != nil {
			return nil
		}
		if d.IsDir() {
			results = append(results, rel+"/")
		} else {
			results = append(results, rel)
		}
		if len(results) >= maxEntries {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(results)
	return results, nil
}
