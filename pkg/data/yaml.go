package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
)

// sampleRow is one samples-file entry before field classification.
type sampleRow = map[string]any

// FromFile loads samples from a YAML file: a top-level sequence of
// mappings, each with a required id. Fields the composed type does not
// recognize are ignored unless the mixin set is closed.
func (typ *SampleType) FromFile(path string) (*Samples, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples file: %w", err)
	}

	var rows []sampleRow

	unmarshalErr := yaml.Unmarshal(raw, &rows)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse samples file %s: %w", path, unmarshalErr)
	}

	collection := typ.NewSamples()

	for position, row := range rows {
		sample, rowErr := typ.sampleFromRow(row)
		if rowErr != nil {
			return nil, fmt.Errorf("samples file %s, entry %d: %w", path, position, rowErr)
		}

		collection.Put(sample)
	}

	return collection, nil
}

// FromFile loads samples with the mixin-free base type.
func FromFile(path string) (*Samples, error) {
	return baseType.FromFile(path)
}

func (typ *SampleType) sampleFromRow(row sampleRow) (*Sample, error) {
	idValue, hasID := row["id"]
	if !hasID {
		return nil, ErrMissingID
	}

	sample := typ.NewSample(fmt.Sprint(idValue))

	for key, value := range row {
		switch key {
		case "id":
		case FieldFiles:
			files, err := stringList(value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}

			sample.AddFiles(files...)
		case FieldMeta:
			mapping, isMap := value.(map[string]any)
			if !isMap {
				return nil, fmt.Errorf("field %q: expected a mapping", key)
			}

			sample.Meta = container.FromMap(mapping)
		case FieldProcessed:
			flag, isBool := value.(bool)
			if !isBool {
				return nil, fmt.Errorf("field %q: expected a boolean", key)
			}

			sample.Processed = flag
		default:
			if typ.HasField(key) {
				sample.Extra[key] = value

				continue
			}

			if typ.closed {
				return nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
			}
			// Open types ignore unrecognized fields.
		}
	}

	return sample, nil
}

func stringList(value any) ([]string, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return typed, nil
	case []any:
		list := make([]string, 0, len(typed))
		for _, item := range typed {
			list = append(list, fmt.Sprint(item))
		}

		return list, nil
	default:
		return nil, fmt.Errorf("expected a sequence, got %T", value)
	}
}
