// Package jobspec reads job specifications from YAML or JSON documents.
// The content stays opaque: only the scheduler decides whether a spec is valid.
package jobspec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/pkg/file"
)

// Extensions recognised when loading a directory of specs.
var Extensions = []string{".yaml", ".yml", ".json"}

// Named is a spec together with the file it came from.
type Named struct {
	Path string
	Spec jobs.Spec
}

// Load reads a spec file. "-" reads from stdin.
func Load(path string) (jobs.Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("spec file path is required")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse spec %s: %w", path, err)
	}
	return spec, nil
}

// LoadDir loads every spec file under dir in path order. It fails on the
// first unreadable spec so nothing is submitted from a half-valid directory.
func LoadDir(dir string) ([]Named, error) {
	paths, err := file.FindByExt(dir, Extensions...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no job specs found in %s", dir)
	}

	ret := make([]Named, 0, len(paths))
	for _, path := range paths {
		spec, err := Load(path)
		if err != nil {
			return nil, err
		}
		ret = append(ret, Named{Path: path, Spec: spec})
	}
	return ret, nil
}

// Parse decodes a YAML or JSON document whose top level is a mapping.
func Parse(data []byte) (jobs.Spec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("spec is empty")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	top, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("spec must be a mapping, got %T", raw)
	}
	return jobs.Spec(top), nil
}

// normalize turns YAML's generic maps into JSON-encodable ones.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[any]any:
		ret := make(map[string]any, len(t))
		for k, child := range t {
			ret[fmt.Sprint(k)] = normalize(child)
		}
		return ret
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	default:
		return v
	}
}
