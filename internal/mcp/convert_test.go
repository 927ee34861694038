package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestToToolSpec(t *testing.T) {
	tool := &mcpsdk.Tool{
		Name:        "query",
		Description: "Run a query",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql":   map[string]any{"type": "string"},
				"limit": map[string]any{"type": "number"},
			},
			"required": []any{"sql"},
		},
	}

	spec := ToToolSpec("db", tool)
	if spec.Name != "db__query" {
		t.Errorf("name = %q, want db__query", spec.Name)
	}
	if spec.Description != "Run a query" {
		t.Errorf("description = %q", spec.Description)
	}

	// The remote schema passes through untouched.
	data, err := json.Marshal(spec.SchemaMap())
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	for _, want := range []string{`"type":"object"`, `"sql"`, `"required":["sql"]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema %s missing %s", data, want)
		}
	}
}

func TestToToolSpec_nonMapSchema(t *testing.T) {
	tool := &mcpsdk.Tool{Name: "ping", Description: "Ping", InputSchema: "not a map"}

	spec := ToToolSpec("svc", tool)
	if spec.RawSchema != nil {
		t.Errorf("RawSchema = %v, want nil", spec.RawSchema)
	}
	// SchemaMap falls back to an empty object schema.
	schema := spec.SchemaMap()
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
}
