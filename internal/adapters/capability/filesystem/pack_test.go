package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/eleven-am/sagaflow/internal/adapters/capability"
	"github.com/eleven-am/sagaflow/internal/adapters/compensation"
	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root  string
	reg   *capability.Registry
	codec *compensation.Codec
	info  domain.ExecutionInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	reg := capability.NewRegistry(nil)
	codec := compensation.NewCodec(nil)
	require.NoError(t, New("", nil).Register(reg, codec))
	return &fixture{
		root:  root,
		reg:   reg,
		codec: codec,
		info:  domain.ExecutionInfo{WorkflowID: "wf", StepName: "s", Principal: domain.Principal{ID: "agent", WorkspaceRoot: root}},
	}
}

func (f *fixture) run(t *testing.T, id string, inputs map[string]interface{}) *domain.ExecutionResult {
	t.Helper()
	result, err := f.reg.Execute(context.Background(), id, inputs, f.info)
	require.NoError(t, err)
	require.True(t, result.Success)
	return result
}

func (f *fixture) undo(t *testing.T, result *domain.ExecutionResult) {
	t.Helper()
	intent, ok, err := f.codec.Encode(result.Undo)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.codec.Execute(context.Background(), intent, f.reg, f.info)
	require.NoError(t, err)
}

func TestWriteFileNewDirectoryUndo(t *testing.T) {
	f := newFixture(t)

	result := f.run(t, WriteFile, map[string]interface{}{"path": "out/nested/a.txt", "content": "hello"})
	data, err := os.ReadFile(filepath.Join(f.root, "out/nested/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, 5, result.Outputs["bytes"])

	intent := result.Undo.(domain.CompensationIntent)
	assert.Equal(t, ActionDelete, intent.Action)
	assert.Equal(t, filepath.Join(f.root, "out"), intent.Params["path"])

	f.undo(t, result)
	_, err = os.Stat(filepath.Join(f.root, "out"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileOverwriteRestores(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.root, "config.ini")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o600))

	result := f.run(t, WriteFile, map[string]interface{}{"path": "config.ini", "content": "changed"})
	intent := result.Undo.(domain.CompensationIntent)
	assert.Equal(t, ActionRestore, intent.Action)

	f.undo(t, result)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestCreateDirUndo(t *testing.T) {
	f := newFixture(t)

	result := f.run(t, CreateDir, map[string]interface{}{"path": "a/b/c"})
	assert.Equal(t, true, result.Outputs["created"])
	assert.DirExists(t, filepath.Join(f.root, "a/b/c"))

	again := f.run(t, CreateDir, map[string]interface{}{"path": "a/b/c"})
	assert.Nil(t, again.Undo)

	f.undo(t, result)
	assert.NoDirExists(t, filepath.Join(f.root, "a"))
}

func TestDeletePathIdempotentAndRestorable(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.root, "notes.md")
	require.NoError(t, os.WriteFile(target, []byte("keep me"), 0o644))

	result := f.run(t, DeletePath, map[string]interface{}{"path": "notes.md"})
	assert.Equal(t, true, result.Outputs["existed"])
	assert.NoFileExists(t, target)

	missing := f.run(t, DeletePath, map[string]interface{}{"path": "notes.md"})
	assert.Equal(t, false, missing.Outputs["existed"])

	f.undo(t, result)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestSandboxRejectsEscapes(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"../outside.txt", "/etc/passwd", ".", ""} {
		_, err := f.reg.Execute(context.Background(), WriteFile, map[string]interface{}{"path": path, "content": "x"}, f.info)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "path %q", path)
	}
}

func TestDefaultRootUsedWithoutPrincipalWorkspace(t *testing.T) {
	root := t.TempDir()
	reg := capability.NewRegistry(nil)
	require.NoError(t, New(root, nil).Register(reg, nil))

	_, err := reg.Execute(context.Background(), WriteFile, map[string]interface{}{"path": "x.txt", "content": "1"}, domain.ExecutionInfo{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "x.txt"))
}
