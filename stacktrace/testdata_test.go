package stacktrace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fooSourceLines is the length of the original app/foo.ts fixture.
const fooSourceLines = 45

// fooMap maps compiled line 10 to original line 42 and compiled line 11 to
// original line 43 of app/foo.ts, both at column 0.
func fooMap(t *testing.T) []byte {
	t.Helper()
	lines := make([]string, fooSourceLines)
	for i := range lines {
		lines[i] = fmt.Sprintf("const line%d = %d;", i+1, i+1)
	}
	data, err := json.Marshal(map[string]interface{}{
		"version":        3,
		"file":           "index.js",
		"sources":        []string{"app/foo.ts"},
		"sourcesContent": []string{strings.Join(lines, "\n")},
		"names":          []string{},
		"mappings":       strings.Repeat(";", 9) + "AAyCA;AACA",
	})
	require.NoError(t, err)
	return data
}

// writeBuild lays out <root>/build/server/index.js(.map) and returns the
// compiled file path.
func writeBuild(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "build", "server")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	js := filepath.Join(dir, "index.js")
	require.NoError(t, os.WriteFile(js, []byte("// compiled\n"), 0o644))
	require.NoError(t, os.WriteFile(js+".map", fooMap(t), 0o644))
	return js
}

func dirOf(path string) string { return filepath.Dir(path) }
