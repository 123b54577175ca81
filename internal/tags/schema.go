package tags

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema classifies environment-derived tag values and validates the
// final property set. Registration never proceeds with properties the
// schema rejects.
type Schema struct {
	customName string
	osValues   map[string]bool
	archValues map[string]bool
	compiled   *jsonschema.Schema
}

// schemaDoc is the slice of the schema document the classifier reads
// directly: the custom-name prefix and the recognized enum values.
type schemaDoc struct {
	CustomName string `json:"custom-name"`
	Properties struct {
		OS struct {
			Enum []string `json:"enum"`
		} `json:"os"`
		Architecture struct {
			Enum []string `json:"enum"`
		} `json:"architecture"`
	} `json:"properties"`
}

// LoadSchema reads and compiles a tag schema from disk.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag schema: %w", err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("tag schema %s: %w", path, err)
	}
	return s, nil
}

// ParseSchema compiles a tag schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tag schema: %w", err)
	}
	if doc.CustomName == "" {
		return nil, fmt.Errorf("tag schema is missing the custom-name prefix")
	}

	compiled, err := jsonschema.CompileString("tag-schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile tag schema: %w", err)
	}

	s := &Schema{
		customName: doc.CustomName,
		osValues:   make(map[string]bool, len(doc.Properties.OS.Enum)),
		archValues: make(map[string]bool, len(doc.Properties.Architecture.Enum)),
		compiled:   compiled,
	}
	for _, v := range doc.Properties.OS.Enum {
		s.osValues[v] = true
	}
	for _, v := range doc.Properties.Architecture.Enum {
		s.archValues[v] = true
	}
	return s, nil
}

// Classify routes environment-derived values into the recognized OS and
// architecture fields. Values matching a captured micro-architecture
// level are already represented and skipped. Anything unrecognized is
// namespaced with the schema's custom-name prefix and kept in the
// custom bucket.
func (s *Schema) Classify(props *Properties, values []string) {
	for _, v := range values {
		switch {
		case s.osValues[v]:
			props.OS = v
		case s.archValues[v]:
			props.Architecture = v
		case slices.Contains(props.MicroArch, v):
		default:
			props.Custom = append(props.Custom, s.customName+"_"+v)
		}
	}
}

// Validate checks the full property set against the compiled schema.
func (s *Schema) Validate(props *Properties) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode tag properties: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode tag properties: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("tag properties rejected by schema: %w", err)
	}
	return nil
}
