package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testContext(t *testing.T) (*ToolContext, string) {
	t.Helper()
	dir := t.TempDir()
	return &ToolContext{Cwd: dir}, dir
}

func findBuiltin(t *testing.T, name string) ToolDef {
	t.Helper()
	for _, def := range Builtin() {
		if def.Spec.Name == name {
			return def
		}
	}
	t.Fatalf("builtin tool %q not found", name)
	return ToolDef{}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(Builtin()...)

	t.Run("builtins registered", func(t *testing.T) {
		for _, name := range []string{"read_file", "write_file", "append_file", "edit_file", "list_files", "bash", "web_fetch"} {
			if _, ok := reg.Find(name); !ok {
				t.Errorf("tool %q missing", name)
			}
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		err := reg.Register(findBuiltin(t, "bash"))
		if err == nil {
			t.Error("expected duplicate registration error")
		}
	})

	t.Run("specs in registration order", func(t *testing.T) {
		specs := reg.Specs()
		if len(specs) != 7 {
			t.Fatalf("specs = %d, want 7", len(specs))
		}
		if specs[0].Name != "read_file" {
			t.Errorf("specs[0] = %q", specs[0].Name)
		}
	})

	t.Run("mutating capabilities", func(t *testing.T) {
		for name, want := range map[string]bool{
			"read_file": false, "write_file": true, "append_file": true,
			"edit_file": true, "list_files": false, "bash": false, "web_fetch": false,
		} {
			def, _ := reg.Find(name)
			if def.IsMutating != want {
				t.Errorf("%s.IsMutating = %v, want %v", name, def.IsMutating, want)
			}
		}
	})
}

func TestWriteReadRoundTrip(t *testing.T) {
	tc, dir := testContext(t)
	write := findBuiltin(t, "write_file")
	read := findBuiltin(t, "read_file")

	out, err := write.Execute(context.Background(), map[string]any{
		"path": "sub/notes.txt", "content": "hello world",
	}, tc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if out != "Successfully wrote to sub/notes.txt" {
		t.Errorf("out = %q", out)
	}

	got, err := read.Execute(context.Background(), map[string]any{"path": "sub/notes.txt"}, tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello world" {
		t.Errorf("content = %q", got)
	}

	// Absolute paths bypass the working directory.
	abs := filepath.Join(dir, "sub", "notes.txt")
	got, err = read.Execute(context.Background(), map[string]any{"path": abs}, tc)
	if err != nil || got != "hello world" {
		t.Errorf("absolute read = %q, %v", got, err)
	}
}

func TestAppendFile(t *testing.T) {
	tc, _ := testContext(t)
	write := findBuiltin(t, "write_file")
	appendTool := findBuiltin(t, "append_file")
	read := findBuiltin(t, "read_file")

	t.Run("missing file reports error text", func(t *testing.T) {
		out, err := appendTool.Execute(context.Background(), map[string]any{
			"path": "missing.txt", "content": "x",
		}, tc)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if !strings.Contains(out, "Use write_file to create it first") {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		write.Execute(context.Background(), map[string]any{"path": "log.txt", "content": "one\n"}, tc)
		out, err := appendTool.Execute(context.Background(), map[string]any{
			"path": "log.txt", "content": "two\n",
		}, tc)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if out != "Successfully appended to log.txt" {
			t.Errorf("out = %q", out)
		}
		got, _ := read.Execute(context.Background(), map[string]any{"path": "log.txt"}, tc)
		if got != "one\ntwo\n" {
			t.Errorf("content = %q", got)
		}
	})
}

func TestEditFile(t *testing.T) {
	tc, dir := testContext(t)
	edit := findBuiltin(t, "edit_file")

	seed := func(content string) {
		if err := os.WriteFile(filepath.Join(dir, "code.go"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("single replacement", func(t *testing.T) {
		seed("func a() {}\nfunc b() {}\n")
		out, err := edit.Execute(context.Background(), map[string]any{
			"path": "code.go", "old_string": "func a() {}", "new_string": "func a() { return }",
		}, tc)
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !strings.Contains(out, "replaced 1 occurrence(s)") {
			t.Errorf("out = %q", out)
		}
		data, _ := os.ReadFile(filepath.Join(dir, "code.go"))
		if !strings.Contains(string(data), "func a() { return }") {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("ambiguous match rejected", func(t *testing.T) {
		seed("x\nx\n")
		_, err := edit.Execute(context.Background(), map[string]any{
			"path": "code.go", "old_string": "x", "new_string": "y",
		}, tc)
		if err == nil || !strings.Contains(err.Error(), "found 2 times") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("replace_all", func(t *testing.T) {
		seed("x\nx\n")
		out, err := edit.Execute(context.Background(), map[string]any{
			"path": "code.go", "old_string": "x", "new_string": "y", "replace_all": true,
		}, tc)
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !strings.Contains(out, "replaced 2 occurrence(s)") {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("not found", func(t *testing.T) {
		seed("abc")
		_, err := edit.Execute(context.Background(), map[string]any{
			"path": "code.go", "old_string": "zzz", "new_string": "y",
		}, tc)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestListFiles(t *testing.T) {
	tc, dir := testContext(t)
	list := findBuiltin(t, "list_files")

	os.MkdirAll(filepath.Join(dir, "pkg"), 0o755)
	os.MkdirAll(filepath.Join(dir, ".git"), 0o755)
	os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755)
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "pkg", "util.go"), []byte("x"), 0o644)

	t.Run("flat", func(t *testing.T) {
		out, err := list.Execute(context.Background(), map[string]any{}, tc)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if !strings.Contains(out, "main.go") || !strings.Contains(out, "pkg/") {
			t.Errorf("out = %q", out)
		}
		if strings.Contains(out, ".git") || strings.Contains(out, "node_modules") {
			t.Errorf("hidden dirs leaked: %q", out)
		}
	})

	t.Run("recursive", func(t *testing.T) {
		out, err := list.Execute(context.Background(), map[string]any{"recursive": true}, tc)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if !strings.Contains(out, filepath.Join("pkg", "util.go")) {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := list.Execute(context.Background(), map[string]any{"path": "main.go"}, tc)
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestPredictTouchedPaths(t *testing.T) {
	write := findBuiltin(t, "write_file")
	if got := write.PredictTouchedPaths(map[string]any{"path": "a.txt", "content": "x"}); len(got) != 1 || got[0] != "a.txt" {
		t.Errorf("got %v", got)
	}
	if got := write.PredictTouchedPaths(map[string]any{"content": "x"}); got != nil {
		t.Errorf("got %v", got)
	}

	read := findBuiltin(t, "read_file")
	if read.PredictTouchedPaths != nil {
		t.Error("read_file should not predict touched paths")
	}
}

func TestTruncateResult(t *testing.T) {
	long := strings.Repeat("a", 2500)

	t.Run("short passes through", func(t *testing.T) {
		if got := TruncateResult("short", "bash", 100); got != "short" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("zero max disables truncation", func(t *testing.T) {
		if got := TruncateResult(long, "bash", 0); got != long {
			t.Error("expected passthrough")
		}
	})

	t.Run("long results carry marker", func(t *testing.T) {
		got := TruncateResult(long, "bash", 1000)
		want := "\n\n[OUTPUT TRUNCATED: Showing 1,000 of 2,500 characters from bash]"
		if !strings.HasSuffix(got, want) {
			t.Errorf("suffix = %q", got[1000:])
		}
		if got[:1000] != long[:1000] {
			t.Error("prefix altered")
		}
	})
}

func TestGroupDigits(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{50000, "50,000"},
		{2000000, "2,000,000"},
	}
	for _, tt := range tests {
		if got := groupDigits(tt.n); got != tt.want {
			t.Errorf("groupDigits(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
