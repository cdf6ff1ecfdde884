package data

import (
	"fmt"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
)

// MergeFunc combines two values of one sample field into the merged value.
// Functions must be pure: no side effects on either input.
type MergeFunc func(a, b any) (any, error)

// Registry field names for the built-in sample fields.
const (
	FieldFiles      = "files"
	FieldMeta       = "meta"
	FieldFailReason = "fail_reason"
	FieldProcessed  = "processed"
)

// MergeRegistry maps field names to their merge functions. Each composed
// sample type carries one registry; mixins extend it with their own fields.
type MergeRegistry struct {
	funcs map[string]MergeFunc
}

// NewMergeRegistry returns a registry preloaded with the built-in rules:
// files merge as an order-preserving union, meta as a deep container merge,
// fail reasons concatenate with a newline, and processed flags AND.
func NewMergeRegistry() *MergeRegistry {
	registry := &MergeRegistry{funcs: make(map[string]MergeFunc)}

	registry.Register(FieldFiles, mergeFiles)
	registry.Register(FieldMeta, mergeMeta)
	registry.Register(FieldFailReason, mergeFailReason)
	registry.Register(FieldProcessed, mergeProcessed)

	return registry
}

// Register installs or replaces the merge function for a field.
func (registry *MergeRegistry) Register(field string, fn MergeFunc) {
	registry.funcs[field] = fn
}

// Lookup returns the merge function for a field.
func (registry *MergeRegistry) Lookup(field string) (MergeFunc, bool) {
	fn, exists := registry.funcs[field]

	return fn, exists
}

// Apply merges one field's values, wrapping any failure with the field name.
func (registry *MergeRegistry) Apply(field string, a, b any) (any, error) {
	fn, exists := registry.funcs[field]
	if !exists {
		// Unregistered fields are right-biased: the newer value wins.
		if b != nil {
			return b, nil
		}

		return a, nil
	}

	merged, err := fn(a, b)
	if err != nil {
		return nil, fmt.Errorf("merge field %q: %w", field, err)
	}

	return merged, nil
}

func mergeFiles(a, b any) (any, error) {
	left, _ := a.([]string)
	right, _ := b.([]string)

	seen := make(map[string]struct{}, len(left)+len(right))
	union := make([]string, 0, len(left)+len(right))

	for _, path := range append(append([]string{}, left...), right...) {
		if _, dup := seen[path]; dup {
			continue
		}

		seen[path] = struct{}{}
		union = append(union, path)
	}

	return union, nil
}

func mergeMeta(a, b any) (any, error) {
	left, leftOK := a.(*container.Container)
	right, rightOK := b.(*container.Container)

	switch {
	case leftOK && rightOK:
		return left.Merge(right), nil
	case leftOK:
		return left.Copy(), nil
	case rightOK:
		return right.Copy(), nil
	default:
		return container.New(), nil
	}
}

func mergeFailReason(a, b any) (any, error) {
	left, _ := a.(string)
	right, _ := b.(string)

	if left != "" && right != "" {
		return left + "\n" + right, nil
	}

	if left != "" {
		return left, nil
	}

	return right, nil
}

func mergeProcessed(a, b any) (any, error) {
	left, _ := a.(bool)
	right, _ := b.(bool)

	return left && right, nil
}

// FieldSpec declares one mixin field: its name, default value, and merge
// rule. A nil Merge leaves the field right-biased.
type FieldSpec struct {
	Name    string
	Default any
	Merge   MergeFunc
}

// MixinSpec declares a set of fields contributed to the composed sample
// type by one module.
type MixinSpec struct {
	// Name identifies the mixin, for diagnostics.
	Name string

	// Fields are the extra sample fields the mixin contributes.
	Fields []FieldSpec

	// Closed rejects samples-file rows carrying fields this mixin set does
	// not declare. The default is to ignore unknown fields.
	Closed bool
}

// SampleType is the composed record type produced from the base sample
// plus the registered mixins. It carries the extra-field tables and merge
// registries for both the Sample and Samples levels; two samples (or two
// collections) merge only when they share a SampleType.
type SampleType struct {
	fields   []FieldSpec
	defaults map[string]any
	registry *MergeRegistry

	samplesFields   []FieldSpec
	samplesDefaults map[string]any
	samplesRegistry *MergeRegistry

	closed bool
}

// baseType is the composed type with no mixins.
var baseType = NewSampleType()

// BaseType returns the mixin-free sample type.
func BaseType() *SampleType {
	return baseType
}

// NewSampleType composes a sample type from sample-level mixin
// descriptors. Later mixins override earlier ones on field-name collision.
// Collection-level mixins compose on top via WithSamplesMixins.
func NewSampleType(mixins ...MixinSpec) *SampleType {
	typ := &SampleType{
		defaults:        make(map[string]any),
		registry:        NewMergeRegistry(),
		samplesDefaults: make(map[string]any),
		samplesRegistry: &MergeRegistry{funcs: make(map[string]MergeFunc)},
	}

	for _, mixin := range mixins {
		if mixin.Closed {
			typ.closed = true
		}

		for _, field := range mixin.Fields {
			if _, exists := typ.defaults[field.Name]; !exists {
				typ.fields = append(typ.fields, field)
			} else {
				for idx := range typ.fields {
					if typ.fields[idx].Name == field.Name {
						typ.fields[idx] = field
					}
				}
			}

			typ.defaults[field.Name] = field.Default

			if field.Merge != nil {
				typ.registry.Register(field.Name, field.Merge)
			}
		}
	}

	return typ
}

// WithSamplesMixins extends the composed type with collection-level
// fields: every Samples of the type carries them, and Merge combines them
// with the declared merge rules. Returns the receiver for chaining at
// composition time.
func (typ *SampleType) WithSamplesMixins(mixins ...MixinSpec) *SampleType {
	for _, mixin := range mixins {
		for _, field := range mixin.Fields {
			if _, exists := typ.samplesDefaults[field.Name]; !exists {
				typ.samplesFields = append(typ.samplesFields, field)
			}

			typ.samplesDefaults[field.Name] = field.Default

			if field.Merge != nil {
				typ.samplesRegistry.Register(field.Name, field.Merge)
			}
		}
	}

	return typ
}

// Registry exposes the sample-level merge registry.
func (typ *SampleType) Registry() *MergeRegistry {
	return typ.registry
}

// SamplesRegistry exposes the collection-level merge registry.
func (typ *SampleType) SamplesRegistry() *MergeRegistry {
	return typ.samplesRegistry
}

// Fields returns the sample-level mixin field specs in declaration order.
func (typ *SampleType) Fields() []FieldSpec {
	return typ.fields
}

// SamplesFields returns the collection-level mixin field specs in
// declaration order.
func (typ *SampleType) SamplesFields() []FieldSpec {
	return typ.samplesFields
}

// Closed reports whether unknown samples-file fields are rejected.
func (typ *SampleType) Closed() bool {
	return typ.closed
}

// HasField reports whether a sample-level mixin declared the named field.
func (typ *SampleType) HasField(name string) bool {
	_, exists := typ.defaults[name]

	return exists
}
