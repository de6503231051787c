// Package properties implements the ordered, typed key/value bag that
// carries run configuration between the agent, the console and the
// worker processes it launches.
package properties

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Properties is an ordered string-to-string map with typed accessors.
// Insertion order is preserved so that callers who serialize it (for a
// worker's command line, for instance) get deterministic output.
type Properties struct {
	baseDirectory string
	order         []string
	values        map[string]string
}

// New creates an empty Properties rooted at baseDirectory. baseDirectory
// is used by ResolveRelativeFile to turn relative script paths into
// absolute ones.
func New(baseDirectory string) *Properties {
	return &Properties{
		baseDirectory: baseDirectory,
		values:        make(map[string]string),
	}
}

// Load reads key=value lines from path, skipping blank lines and lines
// starting with '#'. The file's directory becomes the base directory
// used to resolve relative file properties.
func Load(path string) (*Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("properties: read %s: %w", path, err)
	}

	p := New(filepath.Dir(path))
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		p.Set(key, val)
	}
	return p, nil
}

// LoadYAML reads a flat string-keyed YAML mapping from path and builds
// a Properties from it. Nested mappings are rejected: the wire format
// this agent understands is flat key/value, the same as the
// key=value loader, just expressed in YAML.
func LoadYAML(path string) (*Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("properties: read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("properties: parse %s: %w", path, err)
	}

	p := New(filepath.Dir(path))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		if _, ok := v.(map[string]interface{}); ok {
			return nil, fmt.Errorf("properties: %s: key %q is a nested mapping, not a scalar", path, k)
		}
		p.Set(k, fmt.Sprintf("%v", v))
	}
	return p, nil
}

// BaseDirectory returns the directory relative file properties resolve against.
func (p *Properties) BaseDirectory() string {
	return p.baseDirectory
}

// Set stores a value, appending key to the order if it is new.
func (p *Properties) Set(key, value string) {
	if _, exists := p.values[key]; !exists {
		p.order = append(p.order, key)
	}
	p.values[key] = value
}

// Keys returns property keys in insertion order.
func (p *Properties) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// GetString returns the value for key, or def if the key is absent.
func (p *Properties) GetString(key, def string) string {
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// GetInt returns the value for key parsed as an int, or def if the key
// is absent or unparsable.
func (p *Properties) GetInt(key string, def int) int {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetDouble returns the value for key parsed as a float64, or def if the
// key is absent or unparsable.
func (p *Properties) GetDouble(key string, def float64) float64 {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// GetBoolean returns the value for key parsed as a bool, or def if the
// key is absent or unparsable.
func (p *Properties) GetBoolean(key string, def bool) bool {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetFile returns the value for key as a raw file path string, or def if
// the key is absent. The path is not resolved against the base
// directory; use ResolveRelativeFile for that.
func (p *Properties) GetFile(key string, def string) string {
	return p.GetString(key, def)
}

// ResolveRelativeFile turns a possibly-relative file path into an
// absolute ScriptLocation rooted at the properties' base directory.
// An already-absolute path is returned unchanged.
func (p *Properties) ResolveRelativeFile(file string) ScriptLocation {
	if file == "" {
		return ScriptLocation{Directory: p.baseDirectory}
	}
	if filepath.IsAbs(file) {
		return ScriptLocation{Directory: filepath.Dir(file), File: filepath.Base(file)}
	}
	abs := filepath.Join(p.baseDirectory, file)
	return ScriptLocation{Directory: filepath.Dir(abs), File: filepath.Base(abs)}
}

// PutAll copies every key from other into p, in other's order,
// overwriting any existing values. This is how a start message's
// properties are merged over the agent's base properties.
func (p *Properties) PutAll(other *Properties) {
	if other == nil {
		return
	}
	for _, k := range other.order {
		p.Set(k, other.values[k])
	}
}

// Clone returns a deep copy of p.
func (p *Properties) Clone() *Properties {
	clone := New(p.baseDirectory)
	clone.PutAll(p)
	return clone
}

// ScriptLocation identifies a worker script as a directory plus a file
// name relative to it, mirroring how the console addresses distributed
// files.
type ScriptLocation struct {
	Directory string
	File      string
}

// Path returns the full path to the script.
func (s ScriptLocation) Path() string {
	if s.File == "" {
		return s.Directory
	}
	return filepath.Join(s.Directory, s.File)
}

// IsReadable reports whether the script file exists and can be opened.
func (s ScriptLocation) IsReadable() bool {
	if s.File == "" {
		return false
	}
	f, err := os.Open(s.Path())
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// String implements fmt.Stringer for log messages.
func (s ScriptLocation) String() string {
	return s.Path()
}

// wireProperties is the order-preserving JSON shape for Properties: a
// plain map loses insertion order, so keys travel alongside it.
type wireProperties struct {
	BaseDirectory string            `json:"baseDirectory"`
	Order         []string          `json:"order"`
	Values        map[string]string `json:"values"`
}

// MarshalJSON preserves key order across the wire.
func (p *Properties) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(wireProperties{
		BaseDirectory: p.baseDirectory,
		Order:         p.order,
		Values:        p.values,
	})
}

// UnmarshalJSON restores a Properties value produced by MarshalJSON.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var w wireProperties
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.baseDirectory = w.BaseDirectory
	p.order = w.Order
	p.values = w.Values
	if p.values == nil {
		p.values = make(map[string]string)
	}
	return nil
}
