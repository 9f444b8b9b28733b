// Package backendtools implements the demo LocalProcess backend's tool
// bodies: filesystem access and allowlisted command execution scoped to
// one root directory. Adapted from the teacher's
// internal/tools/filesystem/* and internal/tools/execution/cmd.go, which
// wrapped the same operations as engine.Tool values for the in-process
// agent loop; here they are plain functions called directly by
// cmd/localfsbackend's JSON-RPC dispatch instead of through engine.Tool,
// since this backend has no LLM tool-calling loop of its own to register
// with.
package backendtools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath joins root and relPath and refuses to escape root, the same
// prefix check the teacher applies in every filesystem tool.
func resolvePath(root, relPath string) (string, error) {
	full := filepath.Clean(filepath.Join(root, relPath))
	if !strings.HasPrefix(full, filepath.Clean(root)) {
		return "", fmt.Errorf("backendtools: path %q is outside the backend root", relPath)
	}
	return full, nil
}

// ReadFileResult is the JSON result of ReadFile.
type ReadFileResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	LineCount int    `json:"lineCount"`
}

// ReadFile reads one file's full content, scoped to root.
func ReadFile(root, path string) (ReadFileResult, error) {
	full, err := resolvePath(root, path)
	if err != nil {
		return ReadFileResult{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return ReadFileResult{}, err
	}
	content := string(data)
	return ReadFileResult{Path: path, Content: content, LineCount: strings.Count(content, "\n") + 1}, nil
}

// ListFilesResult is the JSON result of ListFiles.
type ListFilesResult struct {
	Path      string   `json:"path"`
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated"`
}

// ListFiles lists the entries directly under root/path (non-recursive),
// skipping dotfiles and capping at limit entries.
func ListFiles(root, path string, limit int) (ListFilesResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	full, err := resolvePath(root, path)
	if err != nil {
		return ListFilesResult{}, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return ListFilesResult{}, err
	}

	var files []string
	truncated := false
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		rel := name
		if path != "" {
			rel = filepath.Join(path, name)
		}
		files = append(files, rel)
		if len(files) >= limit {
			truncated = len(entries) > len(files)
			break
		}
	}
	return ListFilesResult{Path: path, Files: files, Truncated: truncated}, nil
}

// WriteFileResult is the JSON result of WriteFile.
type WriteFileResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
}

// WriteFile writes content to root/path, creating parent directories.
func WriteFile(root, path, content string) (WriteFileResult, error) {
	full, err := resolvePath(root, path)
	if err != nil {
		return WriteFileResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return WriteFileResult{}, fmt.Errorf("backendtools: create directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return WriteFileResult{}, fmt.Errorf("backendtools: write file: %w", err)
	}
	return WriteFileResult{Path: path, Success: true}, nil
}

// DeleteFileResult is the JSON result of DeleteFile.
type DeleteFileResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DeleteFile removes a single file at root/path. Deleting directories is
// refused, matching the teacher's delete_file tool.
func DeleteFile(root, path string) (DeleteFileResult, error) {
	full, err := resolvePath(root, path)
	if err != nil {
		return DeleteFileResult{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return DeleteFileResult{Path: path, Success: true, Message: "file does not exist"}, nil
		}
		return DeleteFileResult{}, err
	}
	if info.IsDir() {
		return DeleteFileResult{}, fmt.Errorf("backendtools: %q is a directory, not a file", path)
	}
	if err := os.Remove(full); err != nil {
		return DeleteFileResult{}, fmt.Errorf("backendtools: delete file: %w", err)
	}
	return DeleteFileResult{Path: path, Success: true}, nil
}
