package funcmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFunction(t *testing.T, root, id, doc string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "function.yaml"), []byte(doc), 0o644))
}

func TestLoadParsesFunctionsWithBindings(t *testing.T) {
	dir := t.TempDir()
	writeFunction(t, dir, "F1", `
apiVersion: v1
kind: Function
metadata:
  name: hello
spec:
  entryPoint: index.handler
  scriptFile: index.js
  bindings:
    - name: req
      direction: in
      type: httpTrigger
    - name: res
      direction: out
      type: http
`)

	functions, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, functions, 1)

	fn := functions[0]
	assert.Equal(t, "F1", fn.FunctionID)
	assert.Equal(t, "hello", fn.Name)
	assert.Equal(t, "index.handler", fn.EntryPoint)
	require.Len(t, fn.Bindings, 2)
	assert.Equal(t, fnrpc.BindingIn, fn.Bindings[0].Direction)
	assert.Equal(t, fnrpc.BindingOut, fn.Bindings[1].Direction)
}

func TestLoadDefaultsNameToFunctionID(t *testing.T) {
	dir := t.TempDir()
	writeFunction(t, dir, "F2", "spec:\n  entryPoint: index.handler\n")

	functions, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, functions, 1)
	assert.Equal(t, "F2", functions[0].Name)
}

func TestLoadRejectsMissingEntryPoint(t *testing.T) {
	dir := t.TempDir()
	writeFunction(t, dir, "F3", "spec:\n  scriptFile: index.js\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBindingDirection(t *testing.T) {
	dir := t.TempDir()
	writeFunction(t, dir, "F4", `
spec:
  entryPoint: index.handler
  bindings:
    - name: req
      direction: sideways
`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadSkipsDirectoriesWithoutDescriptor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-function"), 0o755))

	functions, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, functions)
}
