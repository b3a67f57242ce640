package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

type errorPage struct {
	Status  int
	Title   string
	Message string
	Stack   string
}

type errorPages struct {
	templates *template.Template
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
	}

	entries, err := fs.ReadDir(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".html")
		if entry.IsDir() || tmpl.Lookup(name) != nil {
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

func newErrorPages(overridesDir string) (*errorPages, error) {
	tmpl, err := loadTemplates(overridesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return &errorPages{templates: tmpl}, nil
}

func (p *errorPages) write(w http.ResponseWriter, page errorPage) {
	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, "error", page); err != nil {
		http.Error(w, http.StatusText(page.Status), page.Status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(page.Status)
	w.Write(buf.Bytes())
}
