package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Engine validates and migrates metadata records. An Engine is immutable
// after construction.
type Engine struct {
	schemas map[int]*jsonschema.Schema
}

// NewEngine compiles the JSON Schema of every known version.
func NewEngine() (*Engine, error) {
	e := &Engine{schemas: make(map[int]*jsonschema.Schema, CurrentVersion)}
	for v := 1; v <= CurrentVersion; v++ {
		name := fmt.Sprintf("schemas/v%d.json", v)
		src, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		sch, err := jsonschema.CompileString(name, string(src))
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", name, err)
		}
		e.schemas[v] = sch
	}
	return e, nil
}

// Versions returns the versions the engine recognizes, oldest first.
func (e *Engine) Versions() []int {
	versions := make([]int, 0, len(e.schemas))
	for v := 1; v <= CurrentVersion; v++ {
		versions = append(versions, v)
	}
	return versions
}

// Detect returns the declared version of a raw record.
func Detect(raw []byte) (int, error) {
	var head struct {
		Version *json.Number `json:"version"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&head); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if head.Version == nil {
		return 0, fmt.Errorf("%w: missing version", ErrSchema)
	}
	v, err := head.Version.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: version %q is not an integer", ErrSchema, head.Version.String())
	}
	return int(v), nil
}

// decodeDoc decodes raw JSON into a generic document.
func decodeDoc(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: record is not an object", ErrSchema)
	}
	return doc, nil
}

// checkDoc validates a generic document against the schema of version v.
func (e *Engine) checkDoc(doc map[string]any, v int) error {
	sch, ok := e.schemas[v]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: v%d: %v", ErrSchema, v, err)
	}
	return nil
}

// Validate parses a current-version record and checks it against the
// current schema and semantic rules. Older records fail with
// ErrUnsupportedVersion; use Migrate for them.
func (e *Engine) Validate(raw []byte) (*Metadata, error) {
	v, err := Detect(raw)
	if err != nil {
		return nil, err
	}
	if v != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d, want %d (migrate first)", ErrUnsupportedVersion, v, CurrentVersion)
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	if err := e.checkDoc(doc, v); err != nil {
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := md.Check(); err != nil {
		return nil, err
	}
	return &md, nil
}

// Check validates typed metadata the same way Validate validates raw JSON.
func (e *Engine) Check(md *Metadata) error {
	raw, err := md.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	_, err = e.Validate(raw)
	return err
}

// Migrate upgrades a record of any recognized version to the current
// version and validates the result. Typed metadata exists only for the
// current version, so to must equal CurrentVersion; use MigrateRaw for
// intermediate versions.
func (e *Engine) Migrate(raw []byte, to int) (*Metadata, error) {
	if to != CurrentVersion {
		if _, err := e.MigrateRaw(raw, to); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: typed metadata requires version %d, got %d", ErrUnsupportedVersion, CurrentVersion, to)
	}
	out, err := e.MigrateRaw(raw, to)
	if err != nil {
		return nil, err
	}
	return e.Validate(out)
}

// MigrateRaw upgrades a record to version to and returns its JSON. The
// input is validated against the schema of its own version first and the
// output against the schema of the target version.
func (e *Engine) MigrateRaw(raw []byte, to int) ([]byte, error) {
	from, err := Detect(raw)
	if err != nil {
		return nil, err
	}
	if from < 1 || from > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, from)
	}
	if to < 1 || to > CurrentVersion {
		return nil, fmt.Errorf("%w: target %d", ErrUnsupportedVersion, to)
	}
	if to < from {
		return nil, fmt.Errorf("%w: no downgrade path from %d to %d", ErrUnsupportedVersion, from, to)
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	if err := e.checkDoc(doc, from); err != nil {
		return nil, err
	}

	for v := from; v < to; v++ {
		doc, err = migrations[v](doc)
		if err != nil {
			return nil, fmt.Errorf("migrating v%d to v%d: %w", v, v+1, err)
		}
		doc["version"] = v + 1
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if from != to {
		// Re-decode so number types match a freshly parsed document.
		check, err := decodeDoc(out)
		if err != nil {
			return nil, err
		}
		if err := e.checkDoc(check, to); err != nil {
			return nil, err
		}
	}
	return out, nil
}
