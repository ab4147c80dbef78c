package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"republic/internal/agent/ports"
)

//go:embed schema/manifest.cue
var manifestSchemaSrc string

//go:embed schema/district.cue
var districtSchemaSrc string

// schemaSet compiles the embedded CUE schemas once per process. A
// cue.Context is not safe for concurrent use, so checks serialize on mu.
type schemaSet struct {
	once     sync.Once
	mu       sync.Mutex
	ctx      *cue.Context
	manifest cue.Value
	district cue.Value
	err      error
}

var schemas schemaSet

func (s *schemaSet) load() error {
	s.once.Do(func() {
		s.ctx = cuecontext.New()
		s.manifest = s.ctx.CompileString("close({"+manifestSchemaSrc+"})", cue.Filename("manifest.cue"))
		if err := s.manifest.Err(); err != nil {
			s.err = fmt.Errorf("compile manifest schema: %w", err)
			return
		}
		s.district = s.ctx.CompileString("close({"+districtSchemaSrc+"})", cue.Filename("district.cue"))
		if err := s.district.Err(); err != nil {
			s.err = fmt.Errorf("compile district schema: %w", err)
		}
	})
	return s.err
}

// check unifies a decoded document with a schema and reports every
// violation in one error.
func (s *schemaSet) check(kind string, doc map[string]any) error {
	if err := s.load(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := s.manifest
	if kind == "district" {
		schema = s.district
	}
	value := s.ctx.Encode(plain(doc))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s does not match schema:\n%s", kind, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// plain rewrites YAML timestamps as RFC 3339 strings so that schema fields
// declared as strings accept unquoted dates.
func plain(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	}
	return v
}

// ParseManifest decodes a YAML or JSON manifest, checks it against the
// embedded schema and fills unset limits from defaults.
func ParseManifest(data []byte, defaults ports.Defaults) (ports.Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ports.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if doc == nil {
		return ports.Manifest{}, fmt.Errorf("parse manifest: document is empty")
	}
	if err := schemas.check("manifest", doc); err != nil {
		return ports.Manifest{}, err
	}

	manifest := ports.Manifest{MaxSteps: -1, CostBudgetUSD: -1}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(false)
	if err := decoder.Decode(&manifest); err != nil {
		return ports.Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	manifest = manifest.WithDefaults(defaults)
	if err := manifest.Validate(); err != nil {
		return ports.Manifest{}, err
	}
	return manifest, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string, defaults ports.Defaults) (ports.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ports.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := ParseManifest(data, defaults)
	if err != nil {
		return ports.Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}
