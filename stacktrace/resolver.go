// Package stacktrace maps compiled JavaScript stack frames back to their
// original sources using the source maps emitted next to the build output.
package stacktrace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/auditmos/devlens/logging"
)

const (
	DefaultLinesAround = 4
	DefaultMapSuffix   = ".map"

	// UnknownMessage stands in for the message of an empty stack.
	UnknownMessage = "Unknown Error."
)

var errNoMapping = errors.New("no mapping for position")

// ContextLine is one numbered line of original source around a frame.
type ContextLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Target bool   `json:"target"`
}

// ResolvedFrame is a frame mapped to original source with its context.
// Line and Column are both 1-based.
type ResolvedFrame struct {
	SourceFile string        `json:"source_file"`
	Line       int           `json:"line"`
	Column     int           `json:"column"`
	Context    []ContextLine `json:"context"`
}

// Resolution holds the message line, the processed frame lines in their
// original order and the subset of frames that resolved with source.
//
// Positions follow the stack trace convention on both sides: the 1-based
// column of "at file:line:col" is looked up as the map's 0-based column,
// and the mapped column is printed 1-based again. A frame at compiled
// column 5 whose segment starts the original line prints as ":42:1", not
// the map's raw ":42:0".
type Resolution struct {
	Message string          `json:"message"`
	Stack   []string        `json:"stack"`
	Frames  []ResolvedFrame `json:"frames"`
}

type Resolver struct {
	Filter      PathFilter
	Loader      MapLoader
	Logger      logging.Logger
	LinesAround int
	MapSuffix   string
}

func NewResolver(filter PathFilter, loader MapLoader, logger logging.Logger) *Resolver {
	if filter == nil {
		filter = ContainsDir(DefaultBuildFragment)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Resolver{
		Filter:      filter,
		Loader:      loader,
		Logger:      logger,
		LinesAround: DefaultLinesAround,
		MapSuffix:   DefaultMapSuffix,
	}
}

// Resolve processes a captured stack. It never fails: any frame that cannot
// be mapped is kept verbatim.
func (r *Resolver) Resolve(stack string) Resolution {
	stack = strings.ReplaceAll(stack, "\r\n", "\n")
	if strings.TrimSpace(stack) == "" {
		return Resolution{Message: UnknownMessage, Stack: []string{}}
	}

	lines := strings.Split(stack, "\n")
	res := Resolution{Message: lines[0], Stack: make([]string, 0, len(lines)-1)}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		loc, ok := ParseFrame(line)
		if !ok || !r.eligible(loc.File) {
			res.Stack = append(res.Stack, line)
			continue
		}

		out, frame, err := r.resolveFrame(loc)
		if err != nil {
			r.logger().WithError(logging.Classify(logging.FrameUnresolved, "resolve frame", err)).
				WithFields(logging.Fields{"file": loc.File, "line": loc.Line, "column": loc.Column}).
				Warn("stacktrace", "resolve", "Frame left unresolved")
			res.Stack = append(res.Stack, line)
			continue
		}
		res.Stack = append(res.Stack, out)
		if frame != nil {
			res.Frames = append(res.Frames, *frame)
		}
	}
	return res
}

func (r *Resolver) eligible(path string) bool {
	if r.Loader == nil {
		return false
	}
	if r.Filter == nil {
		return ContainsDir(DefaultBuildFragment)(path)
	}
	return r.Filter(path)
}

func (r *Resolver) resolveFrame(loc Location) (out string, frame *ResolvedFrame, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, frame, err = "", nil, fmt.Errorf("panic: %v", p)
		}
	}()

	suffix := r.MapSuffix
	if suffix == "" {
		suffix = DefaultMapSuffix
	}
	sm, err := r.Loader.Load(loc.File + suffix)
	if err != nil {
		return "", nil, err
	}

	// Stack columns are 1-based, source map columns 0-based.
	genCol := loc.Column - 1
	if genCol < 0 {
		genCol = 0
	}
	source, _, line, col, ok := sm.Source(loc.Line, genCol)
	if !ok || source == "" {
		return "", nil, errNoMapping
	}
	col++

	out = fmt.Sprintf("    at %s:%d:%d", source, line, col)

	content := sm.SourceContent(source)
	if content == "" {
		return out, nil, nil
	}
	window := Window(content, line, r.linesAround())
	if len(window) == 0 {
		return out, nil, nil
	}
	return out, &ResolvedFrame{SourceFile: source, Line: line, Column: col, Context: window}, nil
}

func (r *Resolver) linesAround() int {
	if r.LinesAround < 0 {
		return 0
	}
	return r.LinesAround
}

func (r *Resolver) logger() logging.Logger {
	if r.Logger == nil {
		return logging.NopLogger{}
	}
	return r.Logger
}

// Window returns up to n lines either side of line (1-based) from source,
// clipped to the file. It returns nil when line lies outside the file.
func Window(source string, line, n int) []ContextLine {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	if line < 1 || line > len(lines) {
		return nil
	}
	start := max(1, line-n)
	end := min(len(lines), line+n)

	out := make([]ContextLine, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, ContextLine{Number: i, Text: lines[i-1], Target: i == line})
	}
	return out
}
