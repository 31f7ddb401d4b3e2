// internal/executors/fs.go
package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// maxReadBytes caps read_file output so a model prompt never swallows a
// multi-megabyte file.
const maxReadBytes = 256 * 1024

// FSExecutor serves file primitives scoped to a workspace root. Paths are
// resolved relative to the root and must stay inside it.
type FSExecutor struct {
	logger *zap.Logger
	root   string
	table  toolcall.MethodTable
}

// NewFSExecutor builds an executor rooted at the given workspace directory.
func NewFSExecutor(logger *zap.Logger, root string) (*FSExecutor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	e := &FSExecutor{
		logger: logger.Named("fs_executor"),
		root:   abs,
	}
	e.table = toolcall.MethodTable{
		"read_file": {
			Name:        "read_file",
			Description: "Read a file inside the workspace.",
			Args:        []toolcall.ArgSpec{{Name: "path", Required: true, Description: "Path relative to the workspace root."}},
			Handler:     e.readFile,
		},
		"write_file": {
			Name:        "write_file",
			Description: "Write a file inside the workspace, creating parent directories.",
			Args: []toolcall.ArgSpec{
				{Name: "path", Required: true, Description: "Path relative to the workspace root."},
				{Name: "content", Required: true, Description: "Full file content."},
			},
			Handler: e.writeFile,
		},
		"list_dir": {
			Name:        "list_dir",
			Description: "List a directory inside the workspace.",
			Args:        []toolcall.ArgSpec{{Name: "path", Description: "Path relative to the workspace root (default the root)."}},
			Handler:     e.listDir,
		},
		"stat": {
			Name:        "stat",
			Description: "Stat a path inside the workspace.",
			Args:        []toolcall.ArgSpec{{Name: "path", Required: true, Description: "Path relative to the workspace root."}},
			Handler:     e.stat,
		},
	}
	return e, nil
}

func (e *FSExecutor) Domain() string                { return "fs" }
func (e *FSExecutor) Methods() toolcall.MethodTable { return e.table }

// resolve joins the argument path onto the root and rejects escapes.
func (e *FSExecutor) resolve(path string) (string, error) {
	joined := filepath.Join(e.root, path)
	rel, err := filepath.Rel(e.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root: %w", path, retrypolicy.ErrInvalidArgument)
	}
	return joined, nil
}

func (e *FSExecutor) readFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	return map[string]interface{}{
		"path":      path,
		"content":   string(data),
		"truncated": truncated,
	}, nil
}

func (e *FSExecutor) writeFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	full, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, err
	}
	e.logger.Debug("Wrote workspace file.", zap.String("path", path), zap.Int("bytes", len(content)))
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (e *FSExecutor) listDir(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := optStringArg(args, "path", ".")
	if err != nil {
		return nil, err
	}
	full, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

func (e *FSExecutor) stat(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"path":     path,
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mode":     info.Mode().String(),
		"mod_time": info.ModTime().UTC(),
	}, nil
}
