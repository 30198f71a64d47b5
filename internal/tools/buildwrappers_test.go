package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWrapperGo(t *testing.T) {
	spawn, err := BuildWrapper("go", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "go.exe", spawn.Command)
	assert.Equal(t, []string{"build", "./..."}, spawn.Args)
}

func TestBuildWrapperJavaDetectsMaven(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project/>"), 0644))

	spawn, err := BuildWrapper("java", dir)
	require.NoError(t, err)
	assert.Equal(t, "mvn.cmd", spawn.Command)
}

func TestBuildWrapperJavaDefaultsToGradle(t *testing.T) {
	spawn, err := BuildWrapper("java", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "gradlew.bat", spawn.Command)
}

func TestBuildWrapperNodeDetectsYarn(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yarn.lock"), []byte(""), 0644))

	spawn, err := BuildWrapper("node", dir)
	require.NoError(t, err)
	assert.Equal(t, "yarn.cmd", spawn.Command)
}

func TestBuildWrapperNodeDefaultsToNpm(t *testing.T) {
	spawn, err := BuildWrapper("node", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "npm.cmd", spawn.Command)
}

func TestBuildWrapperUnsupportedLanguage(t *testing.T) {
	_, err := BuildWrapper("cobol", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported build language")
}

func TestBuildWrapperDetectionNeverTouchesFilesystemWrites(t *testing.T) {
	dir := t.TempDir()
	entriesBefore, err := os.ReadDir(dir)
	require.NoError(t, err)

	_, _ = BuildWrapper("python", dir)

	entriesAfter, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(entriesBefore), len(entriesAfter))
}
