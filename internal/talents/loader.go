// Package talents loads per-agent guidance documents that are appended
// to each agent role's system prompt.
package talents

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Talent is one parsed guidance file.
type Talent struct {
	Name    string   // Filename without .md extension
	Agents  []string // Agent roles it applies to (nil = every role)
	Content string   // Markdown content (frontmatter stripped)
}

type frontmatter struct {
	Agents []string `yaml:"agents"`
}

// Loader reads talents from a filesystem.
type Loader struct {
	fsys fs.FS
}

// NewLoader creates a loader over fsys. A nil fsys loads nothing.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// NewDirLoader loads from a directory on disk. A missing directory is
// treated as empty.
func NewDirLoader(dir string) *Loader {
	if dir == "" {
		return &Loader{}
	}
	if _, err := os.Stat(dir); err != nil {
		return &Loader{}
	}
	return &Loader{fsys: os.DirFS(dir)}
}

// LoadAll reads every top-level .md file in name order.
func (l *Loader) LoadAll() ([]Talent, error) {
	if l.fsys == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read talents dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	talents := make([]Talent, 0, len(files))
	for _, f := range files {
		data, err := fs.ReadFile(l.fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read talent %s: %w", f, err)
		}
		agents, content, err := parseFrontmatter(string(data))
		if err != nil {
			return nil, fmt.Errorf("talent %s: %w", f, err)
		}
		talents = append(talents, Talent{
			Name:    strings.TrimSuffix(path.Base(f), ".md"),
			Agents:  agents,
			Content: strings.TrimSpace(content),
		})
	}
	return talents, nil
}

// ForAgent returns the combined content of talents that apply to agent.
func ForAgent(talents []Talent, agent string) string {
	var parts []string
	for _, t := range talents {
		if appliesTo(t, agent) && t.Content != "" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func appliesTo(t Talent, agent string) bool {
	if len(t.Agents) == 0 {
		return true
	}
	for _, a := range t.Agents {
		if strings.EqualFold(a, agent) {
			return true
		}
	}
	return false
}

// parseFrontmatter splits YAML frontmatter delimited by "---" lines from
// the body. A document without frontmatter is returned unchanged.
//
//	---
//	agents: [briefing, generation]
//	---
func parseFrontmatter(raw string) ([]string, string, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(raw, "---\n") {
		return nil, raw, nil
	}
	rest := raw[len("---\n"):]

	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return nil, raw, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:closeIdx]), &fm); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	body := strings.TrimLeft(rest[closeIdx+len("\n---"):], "\n")
	return fm.Agents, body, nil
}
