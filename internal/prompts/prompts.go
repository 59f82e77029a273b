// Package prompts holds the model prompt templates. Built-in defaults are
// embedded; a directory of PROMPT.md files can override any of them.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const (
	Enrich   = "enrich"
	Strategy = "strategy"
	Email    = "email"
	Event    = "event"
	Extract  = "extract"
)

const promptFileName = "PROMPT.md"

//go:embed defaults
var defaultsFS embed.FS

var errInvalidYAML = errors.New("invalid prompt YAML frontmatter")

var funcs = template.FuncMap{
	"join": strings.Join,
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      string   `yaml:"system"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"maxTokens"`
}

// Template is one prompt: a system instruction, generation settings and a
// text/template body.
type Template struct {
	Name        string
	Description string
	System      string
	Temperature *float64 // nil leaves the backend default
	MaxTokens   int
	Source      string

	body *template.Template
}

func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

type Set struct {
	byName map[string]*Template
}

func (s *Set) Get(name string) (*Template, error) {
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", name)
	}
	return t, nil
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the embedded prompt set.
func Defaults() (*Set, error) {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		return nil, err
	}
	s := &Set{byName: map[string]*Template{}}
	if err := s.loadFS(sub, "embedded:"); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the defaults overlaid with <dir>/<name>/PROMPT.md files.
// An empty or missing dir yields the defaults.
func Load(dir string) (*Set, error) {
	s, err := Defaults()
	if err != nil {
		return nil, err
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return s, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("stat prompts dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompts path is not a directory: %s", dir)
	}
	if err := s.loadFS(os.DirFS(dir), dir+"/"); err != nil {
		return nil, err
	}
	return s, nil
}

// Export writes the embedded defaults under dir as <name>/PROMPT.md,
// leaving existing files alone. It returns the paths it created.
func Export(dir string) ([]string, error) {
	var created []string
	err := fs.WalkDir(defaultsFS, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(p, "defaults/")
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		data, err := defaultsFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return err
		}
		created = append(created, dst)
		return nil
	})
	if err != nil {
		return created, fmt.Errorf("export prompts: %w", err)
	}
	return created, nil
}

func (s *Set) loadFS(fsys fs.FS, origin string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read prompts dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p := path.Join(entry.Name(), promptFileName)
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read prompt %q: %w", origin+p, err)
		}
		t, err := parse(content, origin+p)
		if err != nil {
			if errors.Is(err, errInvalidYAML) {
				log.Printf("[prompts] warning: skip invalid prompt %s: %v", origin+p, err)
				continue
			}
			return err
		}
		if _, exists := s.byName[t.Name]; exists && !strings.HasPrefix(origin, "embedded:") {
			log.Printf("[prompts] override %s from %s", t.Name, t.Source)
		}
		s.byName[t.Name] = t
	}
	return nil
}

func parse(content []byte, source string) (*Template, error) {
	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %q: %w", source, err)
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return nil, fmt.Errorf("parse prompt %q: missing name", source)
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("parse prompt %q: %w", source, err)
	}
	return &Template{
		Name:        name,
		Description: strings.TrimSpace(meta.Description),
		System:      strings.TrimSpace(meta.System),
		Temperature: meta.Temperature,
		MaxTokens:   meta.MaxTokens,
		Source:      source,
		body:        tmpl,
	}, nil
}

func parseFrontmatter(content []byte) (frontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return frontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: %v", errInvalidYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}
