package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractXlsxText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "name")
	f.SetCellValue("Sheet1", "B1", "qty")
	f.SetCellValue("Sheet1", "A2", "apples")
	f.SetCellValue("Sheet1", "B2", 3)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	f.Close()

	got, err := extractXlsxText(path)
	if err != nil {
		t.Fatalf("extractXlsxText: %v", err)
	}
	for _, want := range []string{"[Sheet: Sheet1]", "name\tqty", "apples\t3"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestReadFileDispatchesByExtension(t *testing.T) {
	tc, dir := testContext(t)
	read := findBuiltin(t, "read_file")

	path := filepath.Join(dir, "sheet.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "hello")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	f.Close()

	got, err := read.Execute(context.Background(), map[string]any{"path": "sheet.xlsx"}, tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("got %q", got)
	}
}

func TestDiffStat(t *testing.T) {
	added, removed := diffStat("hello world", "hello brave world")
	if added != 6 || removed != 0 {
		t.Errorf("added/removed = %d/%d, want 6/0", added, removed)
	}

	added, removed = diffStat("abc", "abc")
	if added != 0 || removed != 0 {
		t.Errorf("identical diff = %d/%d", added, removed)
	}
}
