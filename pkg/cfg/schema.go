package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// Schema is the merged JSON-Schema describing every configuration key the
// pipeline and its modules accept. Stored as an ordered container so flag
// generation follows declaration order.
type Schema struct {
	root *container.Container
}

// EmptySchema returns a schema accepting any object.
func EmptySchema() *Schema {
	root := container.New()
	_ = root.Set("type", "object")

	return &Schema{root: root}
}

// LoadSchema reads and deep-merges one or more YAML schema documents (the
// pipeline root schema plus module schemas). Missing files are skipped so
// bare pipelines need no schema.yaml.
func LoadSchema(paths ...string) (*Schema, error) {
	merged := container.New()
	_ = merged.Set("type", "object")

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}

		doc, parseErr := container.FromYAML(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("schema %s: %w", path, parseErr)
		}

		merged = merged.Merge(doc)
	}

	return &Schema{root: merged}, nil
}

// LoadSchemaBytes parses one YAML schema document.
func LoadSchemaBytes(raw []byte) (*Schema, error) {
	doc, err := container.FromYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	return &Schema{root: doc}, nil
}

// Merge deep-merges another schema on top of this one and returns the
// result.
func (schema *Schema) Merge(other *Schema) *Schema {
	return &Schema{root: schema.root.Merge(other.root)}
}

// Flag is one schema leaf turned into a CLI surface entry.
type Flag struct {
	// Key is the nested key path of the leaf.
	Key []string

	// Type is the JSON-Schema type ("string", "integer", "number",
	// "boolean", "array", "size", "path", "mapping").
	Type string

	// Default is the schema default, nil when absent.
	Default any

	// Description is the schema description.
	Description string

	// Required marks keys listed in the schema's required set.
	Required bool

	// Secret hides the value in help output.
	Secret bool

	// Enum restricts the accepted values.
	Enum []any
}

// Name returns the flag name: the dotted key path with dots replaced by
// underscores.
func (flag Flag) Name() string {
	return strings.Join(flag.Key, "_")
}

// DottedKey returns the container path of the flag.
func (flag Flag) DottedKey() string {
	return strings.Join(flag.Key, ".")
}

// Flags walks the schema properties and returns the leaves in declaration
// order.
func (schema *Schema) Flags() []Flag {
	return collectFlags(schema.root, nil)
}

func collectFlags(node *container.Container, prefix []string) []Flag {
	flags := make([]Flag, 0)

	properties := node.GetContainer("properties")

	requiredSet := make(map[string]struct{})
	if required, err := node.Get("required"); err == nil {
		if list, isList := required.([]any); isList {
			for _, item := range list {
				requiredSet[fmt.Sprint(item)] = struct{}{}
			}
		}
	}

	for _, key := range properties.Keys() {
		property := properties.GetContainer(key)
		keyPath := append(append([]string{}, prefix...), key)

		propertyType := property.GetString("type", "")
		format := property.GetString("format", "")

		if propertyType == "object" && property.Has("properties") {
			flags = append(flags, collectFlags(property, keyPath)...)

			continue
		}

		flag := Flag{
			Key:         keyPath,
			Type:        propertyType,
			Description: property.GetString("description", ""),
			Secret:      property.GetBool("secret", false),
		}

		if format != "" {
			flag.Type = format
		}

		if value, err := property.Get("default"); err == nil {
			flag.Default = value
		}

		if value, err := property.Get("enum"); err == nil {
			if list, isList := value.([]any); isList {
				flag.Enum = list
			}
		}

		if _, required := requiredSet[key]; required {
			flag.Required = required
		}

		if propertyType == "object" {
			flag.Type = "mapping"
		}

		flags = append(flags, flag)
	}

	return flags
}

// Validate checks a configuration against the schema. Returns
// ErrSchemaInvalid wrapped with every violation.
func (schema *Schema) Validate(cnt *container.Container) error {
	schemaJSON, err := json.Marshal(schema.root.AsMap())
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	documentJSON, err := json.Marshal(cnt.AsMap())
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(documentJSON),
	)
	if err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaInvalid, strings.Join(violations, "; "))
}

// Load layers schema defaults, a config file, and CLI overrides into a
// validated Config. Precedence: defaults < file < overrides.
func Load(
	schema *Schema,
	configFile string,
	overrides *container.Container,
	ts util.Timestamp,
) (*Config, error) {
	merged := container.New()

	for _, flag := range schema.Flags() {
		if flag.Default == nil {
			continue
		}

		err := merged.Set(flag.DottedKey(), flag.Default)
		if err != nil {
			return nil, fmt.Errorf("schema default %q: %w", flag.DottedKey(), err)
		}
	}

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		fileCnt, parseErr := container.FromYAML(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, parseErr)
		}

		merged = merged.Merge(fileCnt)
	}

	// Environment variables (CELLOPHANE_*) sit between the file and the
	// CLI flags.
	merged = merged.Merge(EnvOverrides(NewViper(), schema.Flags()))

	if overrides != nil {
		merged = merged.Merge(overrides)
	}

	validateErr := schema.Validate(merged)
	if validateErr != nil {
		return nil, validateErr
	}

	return New(merged, ts)
}
