package backendtools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteThenReadFile(t *testing.T) {
	root := t.TempDir()

	if _, err := WriteFile(root, "notes/todo.txt", "buy milk"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := ReadFile(root, "notes/todo.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if result.Content != "buy milk" {
		t.Fatalf("expected content %q, got %q", "buy milk", result.Content)
	}
}

func TestReadFile_RefusesEscapingRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := ReadFile(root, "../../etc/passwd"); err == nil {
		t.Fatalf("expected an error escaping root")
	}
}

func TestListFiles_SkipsDotfilesAndCapsAtLimit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{".hidden", "a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatalf("setup WriteFile: %v", err)
		}
	}

	result, err := ListFiles(root, "", 2)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(result.Files) != 2 || !result.Truncated {
		t.Fatalf("expected 2 files and truncated=true, got %+v", result)
	}
}

func TestDeleteFile_MissingFileIsNotAnError(t *testing.T) {
	root := t.TempDir()
	result, err := DeleteFile(root, "ghost.txt")
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success for a missing file, got %+v", result)
	}
}

func TestDeleteFile_RefusesDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("setup Mkdir: %v", err)
	}
	if _, err := DeleteFile(root, "sub"); err == nil {
		t.Fatalf("expected an error deleting a directory")
	}
}
