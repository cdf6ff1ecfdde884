// Package data defines the sample record types at the center of every
// cellophane pipeline: Sample, the Samples collection, declared outputs,
// and the field-level merge rules that combine results from parallel
// runners.
package data

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
)

// FailReasonUnprocessed is the implicit failure for samples no runner
// marked as processed.
const FailReasonUnprocessed = "Sample was not processed"

// Sample is one unit of work. Identity is the UUID, assigned at
// construction and never changed; many samples may share an ID.
type Sample struct {
	// ID is the user-facing sample name. Not unique.
	ID string

	// Processed is set by the runner once the sample made it through.
	Processed bool

	// Meta holds free-form per-sample metadata.
	Meta *container.Container

	// Extra holds the mixin-declared fields, keyed by field name.
	Extra map[string]any

	typ        *SampleType
	uuid       uuid.UUID
	files      []string
	fileSet    map[string]struct{}
	failReason string
}

// NewSample creates a mixin-free sample.
func NewSample(id string, files ...string) *Sample {
	return baseType.NewSample(id, files...)
}

// NewSample creates a sample of this composed type with mixin defaults
// applied.
func (typ *SampleType) NewSample(id string, files ...string) *Sample {
	sample := &Sample{
		ID:      id,
		Meta:    container.New(),
		Extra:   make(map[string]any, len(typ.fields)),
		typ:     typ,
		uuid:    uuid.New(),
		fileSet: make(map[string]struct{}),
	}

	for _, field := range typ.fields {
		sample.Extra[field.Name] = field.Default
	}

	sample.AddFiles(files...)

	return sample
}

// UUID returns the sample identity.
func (sample *Sample) UUID() uuid.UUID {
	return sample.uuid
}

// Type returns the composed sample type.
func (sample *Sample) Type() *SampleType {
	return sample.typ
}

// Files returns the sample's file paths in insertion order.
func (sample *Sample) Files() []string {
	files := make([]string, len(sample.files))
	copy(files, sample.files)

	return files
}

// AddFiles appends paths, keeping the list deduplicated in insertion order.
func (sample *Sample) AddFiles(paths ...string) {
	for _, path := range paths {
		if _, dup := sample.fileSet[path]; dup {
			continue
		}

		sample.fileSet[path] = struct{}{}
		sample.files = append(sample.files, path)
	}
}

// SetFiles replaces the file list, deduplicating in the given order.
func (sample *Sample) SetFiles(paths ...string) {
	sample.files = nil
	sample.fileSet = make(map[string]struct{}, len(paths))
	sample.AddFiles(paths...)
}

// Fail marks the sample as failed with a human-readable reason. Repeated
// failures concatenate with a newline.
func (sample *Sample) Fail(reason string) {
	if sample.failReason != "" {
		sample.failReason += "\n" + reason

		return
	}

	sample.failReason = reason
}

// FailReason returns the explicit failure reason, "" when none was set.
func (sample *Sample) FailReason() string {
	return sample.failReason
}

// Failed returns the effective failure: the explicit reason, or the
// implicit unprocessed reason, or "" for a complete sample.
func (sample *Sample) Failed() string {
	if sample.failReason != "" {
		return sample.failReason
	}

	if !sample.Processed {
		return FailReasonUnprocessed
	}

	return ""
}

// Complete reports whether the sample finished without failure.
func (sample *Sample) Complete() bool {
	return sample.Failed() == ""
}

// FieldValue resolves a field by name: the built-in fields, then mixin
// extras.
func (sample *Sample) FieldValue(name string) (any, bool) {
	switch name {
	case "id":
		return sample.ID, true
	case "uuid":
		return sample.uuid.String(), true
	case FieldFiles:
		return sample.Files(), true
	case FieldProcessed:
		return sample.Processed, true
	case FieldMeta:
		return sample.Meta, true
	case FieldFailReason:
		return sample.failReason, true
	default:
		value, exists := sample.Extra[name]

		return value, exists
	}
}

// Copy returns a deep copy. The UUID is preserved: a copy is the same
// sample, not a new one.
func (sample *Sample) Copy() *Sample {
	clone := &Sample{
		ID:         sample.ID,
		Processed:  sample.Processed,
		Meta:       sample.Meta.Copy(),
		Extra:      make(map[string]any, len(sample.Extra)),
		typ:        sample.typ,
		uuid:       sample.uuid,
		failReason: sample.failReason,
		files:      make([]string, len(sample.files)),
		fileSet:    make(map[string]struct{}, len(sample.fileSet)),
	}

	copy(clone.files, sample.files)

	for path := range sample.fileSet {
		clone.fileSet[path] = struct{}{}
	}

	for field, value := range sample.Extra {
		clone.Extra[field] = value
	}

	return clone
}

// Merge combines two records of the same sample field by field using the
// type's merge registry. Both inputs are left untouched.
func (sample *Sample) Merge(other *Sample) (*Sample, error) {
	if sample.typ != other.typ {
		return nil, ErrMergeSamplesType
	}

	if sample.uuid != other.uuid {
		return nil, fmt.Errorf("%w: %s vs %s",
			ErrMergeSamplesUUID, sample.uuid, other.uuid)
	}

	merged := sample.Copy()
	registry := sample.typ.registry

	files, err := registry.Apply(FieldFiles, sample.Files(), other.Files())
	if err != nil {
		return nil, err
	}

	merged.SetFiles(files.([]string)...)

	meta, err := registry.Apply(FieldMeta, sample.Meta, other.Meta)
	if err != nil {
		return nil, err
	}

	merged.Meta = meta.(*container.Container)

	reason, err := registry.Apply(FieldFailReason, sample.failReason, other.failReason)
	if err != nil {
		return nil, err
	}

	merged.failReason = reason.(string)

	processed, err := registry.Apply(FieldProcessed, sample.Processed, other.Processed)
	if err != nil {
		return nil, err
	}

	merged.Processed = processed.(bool)

	for _, field := range sample.typ.fields {
		value, applyErr := registry.Apply(field.Name, sample.Extra[field.Name], other.Extra[field.Name])
		if applyErr != nil {
			return nil, applyErr
		}

		merged.Extra[field.Name] = value
	}

	return merged, nil
}

// String returns the sample ID.
func (sample *Sample) String() string {
	return sample.ID
}
