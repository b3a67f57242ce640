package stacktrace

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var framePattern = regexp.MustCompile(`at .+ \((.+):(\d+):(\d+)\)`)

// Location is a position in compiled output as reported by a stack frame.
// Line and Column are 1-based, the way V8 prints them.
type Location struct {
	File   string
	Line   int
	Column int
}

// ParseFrame extracts the compiled location from a stack frame line. Lines
// that do not have the "at fn (file:line:col)" shape report false and are
// meant to be passed through untouched.
func ParseFrame(raw string) (Location, bool) {
	m := framePattern.FindStringSubmatch(raw)
	if m == nil {
		return Location{}, false
	}
	line, err := strconv.Atoi(m[2])
	if err != nil {
		return Location{}, false
	}
	col, err := strconv.Atoi(m[3])
	if err != nil {
		return Location{}, false
	}
	file := strings.TrimPrefix(m[1], "file://")
	file = strings.TrimPrefix(file, "file:")
	return Location{File: file, Line: line, Column: col}, true
}

// PathFilter decides whether a compiled file belongs to the application and
// is worth resolving.
type PathFilter func(path string) bool

// DefaultBuildFragment is the path fragment identifying compiled server output.
const DefaultBuildFragment = "/build/server/"

// ContainsDir accepts paths containing fragment anywhere.
func ContainsDir(fragment string) PathFilter {
	return func(path string) bool {
		return strings.Contains(path, fragment)
	}
}

// UnderDir accepts paths inside root once both are cleaned.
func UnderDir(root string) PathFilter {
	root = filepath.Clean(root)
	return func(path string) bool {
		rel, err := filepath.Rel(root, filepath.Clean(path))
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}
}
