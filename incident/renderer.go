package incident

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/auditmos/devlens/stacktrace"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// TemplateName is the template rendered for every report.
const TemplateName = "incident"

// Rendered is a report in both output formats.
type Rendered struct {
	HTML string
	JSON string
}

type Renderer struct {
	templates *template.Template
}

// NewRenderer loads the embedded templates, or every *.html under
// overridesDir when that directory exists.
func NewRenderer(overridesDir string) (*Renderer, error) {
	tmpl, err := loadTemplates(overridesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if tmpl.Lookup(TemplateName) == nil {
		return nil, fmt.Errorf("load templates: %q template missing", TemplateName)
	}
	return &Renderer{templates: tmpl}, nil
}

func loadTemplates(overridesDir string) (*template.Template, error) {
	tmpl := template.New("")

	useOverrides := false
	if overridesDir != "" {
		if info, err := os.Stat(overridesDir); err == nil && info.IsDir() {
			useOverrides = true
		}
	}

	if useOverrides {
		err := filepath.WalkDir(overridesDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".html") {
				return err
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				return readErr
			}
			relPath, _ := filepath.Rel(overridesDir, path)
			name := strings.TrimSuffix(filepath.ToSlash(relPath), ".html")
			_, parseErr := tmpl.New(name).Parse(string(content))
			return parseErr
		})
		if err != nil {
			return nil, err
		}
		if tmpl.Lookup(TemplateName) != nil {
			return tmpl, nil
		}
	}

	entries, err := fs.ReadDir(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".html")
		if tmpl.Lookup(name) != nil {
			continue
		}
		content, readErr := fs.ReadFile(embeddedTemplates, "templates/"+entry.Name())
		if readErr != nil {
			return nil, readErr
		}
		if _, parseErr := tmpl.New(name).Parse(string(content)); parseErr != nil {
			return nil, parseErr
		}
	}
	return tmpl, nil
}

type htmlData struct {
	Message string
	Frames  []stacktrace.ResolvedFrame
	JSON    string
}

// Render produces the HTML and JSON forms of r. Output depends only on r.
func (rn *Renderer) Render(r Report) (Rendered, error) {
	js, err := r.JSON()
	if err != nil {
		return Rendered{}, fmt.Errorf("encode report: %w", err)
	}

	var buf bytes.Buffer
	data := htmlData{Message: r.Message, Frames: r.Frames, JSON: js}
	if err := rn.templates.ExecuteTemplate(&buf, TemplateName, data); err != nil {
		return Rendered{}, fmt.Errorf("render report: %w", err)
	}
	return Rendered{HTML: buf.String(), JSON: js}, nil
}
