package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

const (
	System            = "system"
	SonarInstructions = "sonar_instructions"
	SonarAnalysis     = "sonar_analysis"
	CodeReview        = "code_review"
	ChatSeed          = "chat_seed"
	FlawedCode        = "flawed_code"
	Judge             = "judge"
)

const ext = ".tmpl"

//go:embed templates/*.tmpl
var defaults embed.FS

var (
	ErrUnknown  = errors.New("unknown prompt")
	ErrTemplate = errors.New("invalid prompt template")
)

type SonarData struct {
	TopN int
}

type CodeData struct {
	Code     string
	Language string
	// Flaws is only used by the flawed_code template.
	Flaws int
}

type JudgeData struct {
	Problem  string
	UserCode string
	AICode   string
}

// Set holds the parsed prompt templates. Embedded defaults are overridden by
// <dir>/<name>.tmpl when dir is set.
type Set struct {
	dir string

	mu    sync.RWMutex
	tmpls map[string]*template.Template
}

func Load(dir string) (*Set, error) {
	s := &Set{dir: strings.TrimSpace(dir), tmpls: map[string]*template.Template{}}
	entries, err := fs.ReadDir(defaults, "templates")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ext)
		if err := s.load(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) load(name string) error {
	text, err := s.source(name)
	if err != nil {
		return err
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("prompt %s: %w", name, err)
	}
	s.mu.Lock()
	s.tmpls[name] = t
	s.mu.Unlock()
	return nil
}

func (s *Set) source(name string) (string, error) {
	if s.dir != "" {
		b, err := os.ReadFile(filepath.Join(s.dir, name+ext))
		if err == nil && len(strings.TrimSpace(string(b))) > 0 {
			return string(b), nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("prompt %s: %w", name, err)
		}
	}
	b, err := defaults.ReadFile("templates/" + name + ext)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return string(b), nil
}

// Render executes the named template. The result is trimmed of surrounding whitespace.
func (s *Set) Render(name string, data any) (string, error) {
	s.mu.RLock()
	t, ok := s.tmpls[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Dir is the override directory, empty when prompts come only from the binary.
func (s *Set) Dir() string { return s.dir }

// Update validates text as a template, writes it to the override directory with an
// atomic rename and makes it active. The returned path is the file written.
func (s *Set) Update(name, text string) (string, error) {
	if s.dir == "" {
		return "", errors.New("prompt override directory is not configured")
	}
	name = strings.TrimSuffix(strings.TrimSpace(name), ext)
	s.mu.RLock()
	_, known := s.tmpls[name]
	s.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if _, err := template.New(name).Parse(text); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplate, name, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("make dir: %w", err)
	}
	dst := filepath.Join(s.dir, name+ext)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp: %w", err)
	}
	_ = tmp.Chmod(0o644)
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return dst, s.load(name)
}
