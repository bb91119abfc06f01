// Package styles holds the named prompt templates applied to every prompt
// before it is sent to the pipeline.
package styles

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultStyle is used whenever a requested style is unknown.
const DefaultStyle = "Photographic (Default)"

// Placeholder marks where the user prompt is inserted into a template.
const Placeholder = "{prompt}"

// ErrNoPlaceholder is returned when a user-supplied template lacks Placeholder.
var ErrNoPlaceholder = errors.New("styles: template prompt must contain " + Placeholder)

//go:embed styles.yaml
var builtinYAML []byte

// Style is a named positive/negative template pair.
type Style struct {
	Name           string `yaml:"name" json:"name"`
	Prompt         string `yaml:"prompt" json:"prompt"`
	NegativePrompt string `yaml:"negative_prompt" json:"negative_prompt"`
}

type styleFile struct {
	Styles []Style `yaml:"styles"`
}

// Registry is a lookup table of styles. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	styles map[string]Style
}

var (
	builtinOnce sync.Once
	builtin     *Registry
	builtinErr  error
)

// Builtin returns the registry parsed from the embedded template set.
func Builtin() *Registry {
	builtinOnce.Do(func() {
		builtin, builtinErr = parse(builtinYAML)
	})
	if builtinErr != nil {
		// The embedded file is part of the binary; failing to parse it is a build defect.
		panic(fmt.Sprintf("styles: embedded styles.yaml: %v", builtinErr))
	}
	return builtin
}

// Load returns the built-in styles with the templates from path merged over
// them. An empty path returns a copy of the built-ins.
func Load(path string) (*Registry, error) {
	reg := Builtin().clone()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("styles: read %s: %w", path, err)
	}
	overlay, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("styles: %s: %w", path, err)
	}

	for name, s := range overlay.styles {
		reg.styles[name] = s
	}
	return reg, nil
}

func parse(data []byte) (*Registry, error) {
	var f styleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	reg := &Registry{styles: make(map[string]Style, len(f.Styles))}
	for _, s := range f.Styles {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, errors.New("style with empty name")
		}
		if !strings.Contains(s.Prompt, Placeholder) {
			return nil, fmt.Errorf("style %q: %w", s.Name, ErrNoPlaceholder)
		}
		reg.styles[s.Name] = s
	}
	return reg, nil
}

func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Registry{styles: make(map[string]Style, len(r.styles))}
	for k, v := range r.styles {
		out.styles[k] = v
	}
	return out
}

// Get returns the style registered under name.
func (r *Registry) Get(name string) (Style, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.styles[name]
	return s, ok
}

// Has reports whether name is a registered style.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all style names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.styles))
	for name := range r.styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply wraps positive and negative in the named template. Unknown names fall
// back to DefaultStyle. The returned negative is the template negative, a
// space, then the caller's negative.
func (r *Registry) Apply(name, positive, negative string) (string, string) {
	s, ok := r.Get(name)
	if !ok {
		s, ok = r.Get(DefaultStyle)
	}
	if !ok {
		return positive, negative
	}
	return strings.ReplaceAll(s.Prompt, Placeholder, positive), s.NegativePrompt + " " + negative
}

// Apply uses the built-in registry.
func Apply(name, positive, negative string) (string, string) {
	return Builtin().Apply(name, positive, negative)
}

// Names lists the built-in style names.
func Names() []string {
	return Builtin().Names()
}
