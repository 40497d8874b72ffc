package filesystem

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

const (
	WriteFile   = "fs.write_file"
	CreateDir   = "fs.create_dir"
	DeletePath  = "fs.delete_path"
	RestoreFile = "fs.restore_file"

	ActionDelete  = "delete"
	ActionRestore = "restore"
)

type CapabilityRegistrar interface {
	Register(capabilityID string, fn ports.CapabilityFunc) error
}

type IntentRegistrar interface {
	RegisterCapability(action, capabilityID string) error
}

// Pack is a set of filesystem capabilities confined to a workspace root.
// The principal's WorkspaceRoot wins over the pack default.
type Pack struct {
	root   string
	logger *slog.Logger
}

func New(defaultRoot string, logger *slog.Logger) *Pack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pack{
		root:   defaultRoot,
		logger: logger.With("component", "fs-capabilities"),
	}
}

// Register adds the capabilities to reg and their undo kinds to codec.
func (p *Pack) Register(reg CapabilityRegistrar, codec IntentRegistrar) error {
	caps := map[string]ports.CapabilityFunc{
		WriteFile:   p.writeFile,
		CreateDir:   p.createDir,
		DeletePath:  p.deletePath,
		RestoreFile: p.restoreFile,
	}
	for _, id := range []string{WriteFile, CreateDir, DeletePath, RestoreFile} {
		if err := reg.Register(id, caps[id]); err != nil {
			return err
		}
	}
	if codec == nil {
		return nil
	}
	if err := codec.RegisterCapability(ActionDelete, DeletePath); err != nil {
		return err
	}
	return codec.RegisterCapability(ActionRestore, RestoreFile)
}

func (p *Pack) resolve(info domain.ExecutionInfo, raw interface{}) (string, string, error) {
	rel, ok := raw.(string)
	if !ok || strings.TrimSpace(rel) == "" {
		return "", "", fmt.Errorf("%w: path must be a non-empty string", domain.ErrInvalidInput)
	}

	root := info.Principal.WorkspaceRoot
	if root == "" {
		root = p.root
	}
	if root == "" {
		return "", "", fmt.Errorf("%w: no workspace root for principal %q", domain.ErrInvalidInput, info.Principal.ID)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}

	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	inside, err := filepath.Rel(root, target)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: path %q escapes workspace %s", domain.ErrInvalidInput, rel, root)
	}
	return root, target, nil
}

// firstMissing returns the top-most ancestor of target (or target itself)
// that does not exist yet, stopping at root.
func firstMissing(root, target string) string {
	missing := ""
	for dir := target; dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		missing = dir
	}
	return missing
}

func (p *Pack) writeFile(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	root, target, err := p.resolve(info, inputs["path"])
	if err != nil {
		return nil, err
	}
	content, err := stringInput(inputs, "content")
	if err != nil {
		return nil, err
	}

	var undo domain.CompensationIntent
	existing, err := os.ReadFile(target)
	switch {
	case err == nil:
		mode := fs.FileMode(0o644)
		if st, statErr := os.Stat(target); statErr == nil {
			mode = st.Mode().Perm()
		}
		undo = domain.CompensationIntent{
			Action: ActionRestore,
			Params: map[string]interface{}{
				"path":           target,
				"content_base64": base64.StdEncoding.EncodeToString(existing),
				"mode":           int(mode),
			},
		}
	case errors.Is(err, fs.ErrNotExist):
		created := firstMissing(root, target)
		undo = domain.CompensationIntent{
			Action: ActionDelete,
			Params: map[string]interface{}{"path": created},
		}
	default:
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, err
	}

	p.logger.Debug("file written", "workflow_id", info.WorkflowID, "path", target, "bytes", len(content))
	return &domain.ExecutionResult{
		Success: true,
		Outputs: map[string]interface{}{
			"path":  target,
			"bytes": len(content),
		},
		Undo: undo,
	}, nil
}

func (p *Pack) createDir(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	root, target, err := p.resolve(info, inputs["path"])
	if err != nil {
		return nil, err
	}

	created := firstMissing(root, target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{
		Success: true,
		Outputs: map[string]interface{}{"path": target, "created": created != ""},
	}
	if created != "" {
		result.Undo = domain.CompensationIntent{
			Action: ActionDelete,
			Params: map[string]interface{}{"path": created},
		}
	}
	return result, nil
}

// deletePath is idempotent: a missing path is a success. Deleting a regular
// file outside of compensation captures its content for undo.
func (p *Pack) deletePath(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	_, target, err := p.resolve(info, inputs["path"])
	if err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{Success: true, Outputs: map[string]interface{}{"path": target}}

	st, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		result.Outputs["existed"] = false
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if !info.Compensating && st.Mode().IsRegular() {
		content, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		result.Undo = domain.CompensationIntent{
			Action: ActionRestore,
			Params: map[string]interface{}{
				"path":           target,
				"content_base64": base64.StdEncoding.EncodeToString(content),
				"mode":           int(st.Mode().Perm()),
			},
		}
	}

	if err := os.RemoveAll(target); err != nil {
		return nil, err
	}
	result.Outputs["existed"] = true
	p.logger.Debug("path deleted", "workflow_id", info.WorkflowID, "path", target, "compensating", info.Compensating)
	return result, nil
}

func (p *Pack) restoreFile(ctx context.Context, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	_, target, err := p.resolve(info, inputs["path"])
	if err != nil {
		return nil, err
	}
	encoded, err := stringInput(inputs, "content_base64")
	if err != nil {
		return nil, err
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: content_base64: %v", domain.ErrInvalidInput, err)
	}

	mode := fs.FileMode(0o644)
	if raw, ok := inputs["mode"]; ok {
		if n, ok := toInt(raw); ok && n > 0 {
			mode = fs.FileMode(n)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, content, mode); err != nil {
		return nil, err
	}
	return &domain.ExecutionResult{
		Success: true,
		Outputs: map[string]interface{}{"path": target, "bytes": len(content)},
	}, nil
}

func stringInput(inputs map[string]interface{}, key string) (string, error) {
	raw, ok := inputs[key]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
