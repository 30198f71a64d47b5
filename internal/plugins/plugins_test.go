package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/winbuildd/internal/tools"
)

func writeDescriptor(t *testing.T, dir, name, kind, file string) {
	t.Helper()
	d := descriptor{Name: name, Description: "test plugin", Kind: kind, File: file}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0644))
}

func TestLoadRejectsCollisionWithBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "ping_host", "js", "ping_host.js")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping_host.js"), []byte("result = 'x'"), 0644))

	reg, err := Load(context.Background(), dir, map[string]bool{"ping_host": true})
	require.NoError(t, err)
	assert.False(t, reg.Has("ping_host"))
	assert.Empty(t, reg.Tools())
}

func TestLoadAcceptsNonCollidingPlugin(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "lint_code", "js", "lint_code.js")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lint_code.js"), []byte("result = 'ok'"), 0644))

	reg, err := Load(context.Background(), dir, map[string]bool{"ping_host": true})
	require.NoError(t, err)
	assert.True(t, reg.Has("lint_code"))

	var found tools.Tool
	for _, tl := range reg.Tools() {
		if tl.Name == "lint_code" {
			found = tl
		}
	}
	assert.Equal(t, "lint_code", found.Name)
}

func TestLoadMissingDirReturnsEmptyRegistry(t *testing.T) {
	reg, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, reg.Tools())
}

func TestCallJSExecutesScriptAndReadsResult(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "double", "js", "double.js")
	script := `result = "doubled:" + (args.n * 2)`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "double.js"), []byte(script), 0644))

	reg, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)

	out, err := reg.Call(context.Background(), "double", json.RawMessage(`{"n":21}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "doubled:42", out)
}

func TestCallJSTimesOut(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "spin", "js", "spin.js")
	script := `while (true) {}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spin.js"), []byte(script), 0644))

	reg, err := Load(context.Background(), dir, nil)
	require.NoError(t, err)

	_, err = reg.Call(context.Background(), "spin", nil, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestCallUnknownPluginErrors(t *testing.T) {
	reg, err := Load(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	_, err = reg.Call(context.Background(), "nonexistent", nil, time.Second)
	assert.Error(t, err)
}
