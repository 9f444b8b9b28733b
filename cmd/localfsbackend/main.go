// Command localfsbackend is a demo LocalProcess backend: a filesystem and
// command-execution toolset scoped to one root directory, exposed over the
// same newline-delimited JSON stdio protocol sandboxd's upstream.LocalProcess
// transport speaks to every backend it spawns. It exists to give the broker
// something real to connect to; a production backend would expose a richer
// toolset, but the wire protocol is exactly this one.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/dodo/internal/backendtools"
)

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Message string `json:"message"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	root := os.Getenv("DODO_LOCALFS_ROOT")
	if root == "" {
		root = "."
	}
	abs, err := resolveRoot(root)
	if err != nil {
		log.Error("failed to resolve backend root", "root", root, "error", err)
		os.Exit(1)
	}

	if err := run(os.Stdin, os.Stdout, abs, log); err != nil {
		log.Error("stdio loop exited with error", "error", err)
		os.Exit(1)
	}
}

func resolveRoot(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("localfsbackend: root %q is not a directory", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func run(in io.Reader, out io.Writer, root string, log *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	writer := bufio.NewWriter(out)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeResponse(writer, response{Error: &responseError{Message: fmt.Sprintf("malformed request: %v", err)}})
			continue
		}
		resp := dispatch(req, root)
		writeResponse(writer, resp)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("localfsbackend: stdin read: %w", err)
	}
	return nil
}

func writeResponse(w *bufio.Writer, resp response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Write(payload)
	w.WriteByte('\n')
	w.Flush()
}

func dispatch(req request, root string) response {
	switch req.Method {
	case "listTools":
		return listTools(req)
	case "read_file":
		return callReadFile(req, root)
	case "list_files":
		return callListFiles(req, root)
	case "write_file":
		return callWriteFile(req, root)
	case "delete_file":
		return callDeleteFile(req, root)
	case "run_cmd":
		return callRunCmd(req, root)
	default:
		return errorResponse(req.ID, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func listTools(req request) response {
	tools := []toolDescriptor{
		{
			Name:        "read_file",
			Description: "Read the full content of a file under the backend root.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "list_files",
			Description: "List the non-hidden entries directly under a directory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":  map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file under the backend root, creating parent directories.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a single file under the backend root.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "run_cmd",
			Description: "Run one allowlisted command rooted at the backend directory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cmd":            map[string]any{"type": "string"},
					"args":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"timeoutSeconds": map[string]any{"type": "integer"},
				},
				"required": []string{"cmd"},
			},
		},
	}
	payload, _ := json.Marshal(tools)
	return response{ID: req.ID, Result: payload}
}

func callReadFile(req request, root string) response {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("malformed params: %v", err))
	}
	result, err := backendtools.ReadFile(root, params.Path)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return resultResponse(req.ID, result)
}

func callListFiles(req request, root string) response {
	var params struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("malformed params: %v", err))
	}
	result, err := backendtools.ListFiles(root, params.Path, params.Limit)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return resultResponse(req.ID, result)
}

func callWriteFile(req request, root string) response {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("malformed params: %v", err))
	}
	result, err := backendtools.WriteFile(root, params.Path, params.Content)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return resultResponse(req.ID, result)
}

func callDeleteFile(req request, root string) response {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("malformed params: %v", err))
	}
	result, err := backendtools.DeleteFile(root, params.Path)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return resultResponse(req.ID, result)
}

func callRunCmd(req request, root string) response {
	var params struct {
		Cmd            string   `json:"cmd"`
		Args           []string `json:"args"`
		TimeoutSeconds int      `json:"timeoutSeconds"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Sprintf("malformed params: %v", err))
	}
	result, err := backendtools.RunCmd(context.Background(), root, params.Cmd, params.Args, params.TimeoutSeconds)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return resultResponse(req.ID, result)
}

func resultResponse(id string, v any) response {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, fmt.Sprintf("marshal result: %v", err))
	}
	return response{ID: id, Result: payload}
}

func errorResponse(id, message string) response {
	return response{ID: id, Error: &responseError{Message: message}}
}
