package data

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Samples is an ordered collection of samples with UUID-keyed lookup and a
// set of declared outputs. No two samples share a UUID.
type Samples struct {
	// Outputs holds the declared Output/OutputGlob entries.
	Outputs *OutputSet

	// Extra holds the collection-level mixin fields, keyed by field name.
	Extra map[string]any

	typ   *SampleType
	items []*Sample
	index map[uuid.UUID]int
}

// NewSamples creates an empty mixin-free collection.
func NewSamples(samples ...*Sample) *Samples {
	return baseType.NewSamples(samples...)
}

// NewSamples creates an empty collection of this composed type with the
// collection-level mixin defaults applied.
func (typ *SampleType) NewSamples(samples ...*Sample) *Samples {
	collection := &Samples{
		Outputs: NewOutputSet(),
		Extra:   make(map[string]any, len(typ.samplesFields)),
		typ:     typ,
		index:   make(map[uuid.UUID]int),
	}

	for _, field := range typ.samplesFields {
		collection.Extra[field.Name] = field.Default
	}

	collection.Put(samples...)

	return collection
}

// Type returns the composed sample type of the collection.
func (collection *Samples) Type() *SampleType {
	return collection.typ
}

// Len returns the number of samples.
func (collection *Samples) Len() int {
	return len(collection.items)
}

// At returns the sample at a position.
func (collection *Samples) At(position int) *Sample {
	return collection.items[position]
}

// All returns the samples in insertion order. The slice is shared; callers
// that mutate the collection must not hold on to it.
func (collection *Samples) All() []*Sample {
	return collection.items
}

// ByUUID returns the sample with the given identity.
func (collection *Samples) ByUUID(id uuid.UUID) (*Sample, bool) {
	position, exists := collection.index[id]
	if !exists {
		return nil, false
	}

	return collection.items[position], true
}

// Has reports whether a sample with the identity is present.
func (collection *Samples) Has(id uuid.UUID) bool {
	_, exists := collection.index[id]

	return exists
}

// Put inserts samples, replacing any existing sample with the same UUID.
func (collection *Samples) Put(samples ...*Sample) {
	for _, sample := range samples {
		if position, exists := collection.index[sample.uuid]; exists {
			collection.items[position] = sample

			continue
		}

		collection.index[sample.uuid] = len(collection.items)
		collection.items = append(collection.items, sample)
	}
}

// Copy deep-copies the collection, its samples, its outputs, and its
// collection-level fields.
func (collection *Samples) Copy() *Samples {
	clone := collection.typ.NewSamples()

	for _, sample := range collection.items {
		clone.Put(sample.Copy())
	}

	clone.Outputs = collection.Outputs.Copy()

	for field, value := range collection.Extra {
		clone.Extra[field] = value
	}

	return clone
}

// Union returns a copy with the other collection's samples put on top:
// samples with a matching UUID are replaced, the rest appended. Outputs
// union.
func (collection *Samples) Union(other *Samples) (*Samples, error) {
	if collection.typ != other.typ {
		return nil, ErrMergeSamplesType
	}

	merged := collection.Copy()

	for _, sample := range other.items {
		merged.Put(sample.Copy())
	}

	merged.Outputs = merged.Outputs.Union(other.Outputs)

	return merged, nil
}

// Merge applies the registered merge rules: every sample present on both
// sides merges field by field; samples only on the left pass through.
// Outputs union; collection-level mixin fields merge with their declared
// rules. Mirrors the per-field registry semantics of Sample.Merge.
func (collection *Samples) Merge(other *Samples) (*Samples, error) {
	if collection.typ != other.typ {
		return nil, ErrMergeSamplesType
	}

	merged := collection.typ.NewSamples()

	for _, sample := range collection.items {
		counterpart, exists := other.ByUUID(sample.uuid)
		if !exists {
			merged.Put(sample.Copy())

			continue
		}

		combined, err := sample.Merge(counterpart)
		if err != nil {
			return nil, fmt.Errorf("sample %q (%s): %w", sample.ID, sample.uuid, err)
		}

		merged.Put(combined)
	}

	merged.Outputs = collection.Outputs.Union(other.Outputs)

	for _, field := range collection.typ.samplesFields {
		value, err := collection.typ.samplesRegistry.Apply(
			field.Name, collection.Extra[field.Name], other.Extra[field.Name])
		if err != nil {
			return nil, err
		}

		merged.Extra[field.Name] = value
	}

	return merged, nil
}

// Group is one split subset, keyed by the shared field value.
type Group struct {
	// Key is the shared value, "" for the single group of a nil split.
	Key string

	// Samples is the subset.
	Samples *Samples
}

// Split partitions the collection by a field value, preserving first-seen
// group order. An empty field or "uuid" yields one group per sample keyed
// by its UUID.
func (collection *Samples) Split(by string) []Group {
	if by == "" || by == "uuid" {
		groups := make([]Group, 0, len(collection.items))

		for _, sample := range collection.items {
			subset := collection.typ.NewSamples(sample)
			subset.Outputs = collection.Outputs.Copy()
			groups = append(groups, Group{Key: sample.uuid.String(), Samples: subset})
		}

		return groups
	}

	order := make([]string, 0)
	subsets := make(map[string]*Samples)

	for _, sample := range collection.items {
		value, _ := sample.FieldValue(by)
		key := fmt.Sprint(value)

		subset, exists := subsets[key]
		if !exists {
			subset = collection.typ.NewSamples()
			subset.Outputs = collection.Outputs.Copy()
			subsets[key] = subset
			order = append(order, key)
		}

		subset.Put(sample)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		groups = append(groups, Group{Key: key, Samples: subsets[key]})
	}

	return groups
}

func (collection *Samples) filtered(keep func(*Sample) bool, withOutputs bool) *Samples {
	subset := collection.typ.NewSamples()

	for _, sample := range collection.items {
		if keep(sample) {
			subset.Put(sample)
		}
	}

	if withOutputs {
		subset.Outputs = collection.Outputs.Copy()
	}

	return subset
}

// Complete returns the samples that finished without failure. The declared
// outputs travel with the complete subset.
func (collection *Samples) Complete() *Samples {
	return collection.filtered(func(sample *Sample) bool {
		return sample.Complete()
	}, true)
}

// Failed returns the samples with an effective failure.
func (collection *Samples) Failed() *Samples {
	return collection.filtered(func(sample *Sample) bool {
		return sample.Failed() != ""
	}, false)
}

// Unprocessed returns the samples no runner marked processed.
func (collection *Samples) Unprocessed() *Samples {
	return collection.filtered(func(sample *Sample) bool {
		return !sample.Processed
	}, false)
}

// WithFiles returns the samples whose every file exists on disk.
func (collection *Samples) WithFiles() *Samples {
	return collection.filtered(func(sample *Sample) bool {
		if len(sample.files) == 0 {
			return false
		}

		for _, path := range sample.files {
			if _, err := os.Stat(path); err != nil {
				return false
			}
		}

		return true
	}, false)
}

// WithoutFiles returns the samples with no files or at least one missing
// file.
func (collection *Samples) WithoutFiles() *Samples {
	with := collection.WithFiles()

	return collection.filtered(func(sample *Sample) bool {
		return !with.Has(sample.uuid)
	}, false)
}

// UniqueIDs returns the distinct sample IDs in first-seen order.
func (collection *Samples) UniqueIDs() []string {
	seen := make(map[string]struct{}, len(collection.items))
	ids := make([]string, 0, len(collection.items))

	for _, sample := range collection.items {
		if _, dup := seen[sample.ID]; dup {
			continue
		}

		seen[sample.ID] = struct{}{}
		ids = append(ids, sample.ID)
	}

	return ids
}

// String lists the sample IDs, one per line.
func (collection *Samples) String() string {
	out := ""

	for idx, sample := range collection.items {
		if idx > 0 {
			out += "\n"
		}

		out += sample.ID
	}

	return out
}
