// Package container implements the insertion-ordered configuration and
// metadata mapping used throughout cellophane. Keys are strings, values are
// scalars, lists, or nested containers, and merging is deep.
package container

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for container operations.
var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrNotAContainer = errors.New("value is not a container")
	ErrCyclicValue   = errors.New("container value would create a cycle")
)

// Container is an insertion-ordered mapping from string keys to values.
// Values are normalized on insertion to one of: nil, bool, int64, float64,
// string, []any, or *Container. Container graphs are trees; inserting a
// container that already contains the receiver is rejected.
type Container struct {
	keys   []string
	values map[string]any
}

// New creates an empty Container.
func New() *Container {
	return &Container{
		keys:   make([]string, 0),
		values: make(map[string]any),
	}
}

// FromMap builds a Container from a nested string-keyed mapping. Nested
// maps become nested containers. Key order follows map iteration order; use
// FromYAML when document order matters.
func FromMap(mapping map[string]any) *Container {
	cnt := New()

	for key, value := range mapping {
		_ = cnt.Set(key, value)
	}

	return cnt
}

// normalize converts an arbitrary value to the container value model.
func normalize(value any) (any, error) {
	switch typed := value.(type) {
	case nil, bool, string, int64, float64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case uint:
		return int64(typed), nil
	case uint64:
		return int64(typed), nil
	case float32:
		return float64(typed), nil
	case *Container:
		return typed, nil
	case map[string]any:
		nested := New()
		for key, item := range typed {
			err := nested.Set(key, item)
			if err != nil {
				return nil, err
			}
		}

		return nested, nil
	case []string:
		list := make([]any, len(typed))
		for idx, item := range typed {
			list[idx] = item
		}

		return list, nil
	case []any:
		list := make([]any, 0, len(typed))

		for _, item := range typed {
			norm, err := normalize(item)
			if err != nil {
				return nil, err
			}

			list = append(list, norm)
		}

		return list, nil
	default:
		return fmt.Sprint(typed), nil
	}
}

// contains reports whether needle is reachable from cnt.
func (cnt *Container) contains(needle *Container) bool {
	if cnt == needle {
		return true
	}

	for _, key := range cnt.keys {
		child, isContainer := cnt.values[key].(*Container)
		if isContainer && child.contains(needle) {
			return true
		}
	}

	return false
}

// Set stores a value under a dotted key path, creating intermediate
// containers as needed. Setting a container that transitively contains the
// receiver returns ErrCyclicValue.
func (cnt *Container) Set(path string, value any) error {
	norm, err := normalize(value)
	if err != nil {
		return err
	}

	if child, isContainer := norm.(*Container); isContainer && child.contains(cnt) {
		return fmt.Errorf("%w: %q", ErrCyclicValue, path)
	}

	head, rest, nested := strings.Cut(path, ".")

	if !nested {
		if _, exists := cnt.values[head]; !exists {
			cnt.keys = append(cnt.keys, head)
		}

		cnt.values[head] = norm

		return nil
	}

	current, exists := cnt.values[head]
	if !exists {
		current = New()
		cnt.keys = append(cnt.keys, head)
		cnt.values[head] = current
	}

	childCnt, isContainer := current.(*Container)
	if !isContainer {
		return fmt.Errorf("%w: %q", ErrNotAContainer, head)
	}

	return childCnt.Set(rest, value)
}

// Get retrieves the value at a dotted key path.
func (cnt *Container) Get(path string) (any, error) {
	head, rest, nested := strings.Cut(path, ".")

	value, exists := cnt.values[head]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, head)
	}

	if !nested {
		return value, nil
	}

	childCnt, isContainer := value.(*Container)
	if !isContainer {
		return nil, fmt.Errorf("%w: %q", ErrNotAContainer, head)
	}

	return childCnt.Get(rest)
}

// Has reports whether a dotted key path resolves.
func (cnt *Container) Has(path string) bool {
	_, err := cnt.Get(path)

	return err == nil
}

// Delete removes the value at a dotted key path. Missing keys are ignored.
func (cnt *Container) Delete(path string) {
	head, rest, nested := strings.Cut(path, ".")

	value, exists := cnt.values[head]
	if !exists {
		return
	}

	if nested {
		if childCnt, isContainer := value.(*Container); isContainer {
			childCnt.Delete(rest)
		}

		return
	}

	delete(cnt.values, head)

	for idx, key := range cnt.keys {
		if key == head {
			cnt.keys = append(cnt.keys[:idx], cnt.keys[idx+1:]...)

			break
		}
	}
}

// Keys returns the top-level keys in insertion order.
func (cnt *Container) Keys() []string {
	keys := make([]string, len(cnt.keys))
	copy(keys, cnt.keys)

	return keys
}

// Len returns the number of top-level keys.
func (cnt *Container) Len() int {
	return len(cnt.keys)
}

// Typed accessors. Each returns the fallback when the key is missing or the
// value has a different type.

// GetString returns the string at path, or fallback.
func (cnt *Container) GetString(path, fallback string) string {
	value, err := cnt.Get(path)
	if err != nil {
		return fallback
	}

	str, isString := value.(string)
	if !isString {
		return fallback
	}

	return str
}

// GetInt returns the integer at path, or fallback.
func (cnt *Container) GetInt(path string, fallback int64) int64 {
	value, err := cnt.Get(path)
	if err != nil {
		return fallback
	}

	switch typed := value.(type) {
	case int64:
		return typed
	case float64:
		return int64(typed)
	default:
		return fallback
	}
}

// GetBool returns the boolean at path, or fallback.
func (cnt *Container) GetBool(path string, fallback bool) bool {
	value, err := cnt.Get(path)
	if err != nil {
		return fallback
	}

	flag, isBool := value.(bool)
	if !isBool {
		return fallback
	}

	return flag
}

// GetContainer returns the nested container at path, or an empty one.
func (cnt *Container) GetContainer(path string) *Container {
	value, err := cnt.Get(path)
	if err != nil {
		return New()
	}

	child, isContainer := value.(*Container)
	if !isContainer {
		return New()
	}

	return child
}

// GetStringMap returns the nested container at path flattened one level to
// a string map. Non-string leaves are formatted.
func (cnt *Container) GetStringMap(path string) map[string]string {
	child := cnt.GetContainer(path)
	mapping := make(map[string]string, len(child.keys))

	for _, key := range child.keys {
		switch typed := child.values[key].(type) {
		case string:
			mapping[key] = typed
		case nil, *Container:
			// Skip non-scalar entries.
		default:
			mapping[key] = fmt.Sprint(typed)
		}
	}

	return mapping
}

// Copy returns a deep copy of the container.
func (cnt *Container) Copy() *Container {
	clone := New()

	for _, key := range cnt.keys {
		clone.keys = append(clone.keys, key)
		clone.values[key] = copyValue(cnt.values[key])
	}

	return clone
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case *Container:
		return typed.Copy()
	case []any:
		list := make([]any, len(typed))
		for idx, item := range typed {
			list[idx] = copyValue(item)
		}

		return list
	default:
		return typed
	}
}

// Merge deep-merges other into a copy of cnt and returns the result.
// Nested containers merge recursively, lists concatenate, scalars from
// other win. Neither input is mutated.
func (cnt *Container) Merge(other *Container) *Container {
	merged := cnt.Copy()

	for _, key := range other.keys {
		incoming := other.values[key]

		current, exists := merged.values[key]
		if !exists {
			merged.keys = append(merged.keys, key)
			merged.values[key] = copyValue(incoming)

			continue
		}

		currentCnt, currentIsCnt := current.(*Container)
		incomingCnt, incomingIsCnt := incoming.(*Container)

		if currentIsCnt && incomingIsCnt {
			merged.values[key] = currentCnt.Merge(incomingCnt)

			continue
		}

		currentList, currentIsList := current.([]any)
		incomingList, incomingIsList := incoming.([]any)

		if currentIsList && incomingIsList {
			joined := make([]any, 0, len(currentList)+len(incomingList))
			joined = append(joined, currentList...)
			joined = append(joined, copyValue(incomingList).([]any)...)
			merged.values[key] = joined

			continue
		}

		merged.values[key] = copyValue(incoming)
	}

	return merged
}

// AsMap converts the container to a plain nested mapping. Order is lost;
// use Keys for ordered iteration.
func (cnt *Container) AsMap() map[string]any {
	mapping := make(map[string]any, len(cnt.keys))

	for _, key := range cnt.keys {
		mapping[key] = valueAsPlain(cnt.values[key])
	}

	return mapping
}

func valueAsPlain(value any) any {
	switch typed := value.(type) {
	case *Container:
		return typed.AsMap()
	case []any:
		list := make([]any, len(typed))
		for idx, item := range typed {
			list[idx] = valueAsPlain(item)
		}

		return list
	default:
		return typed
	}
}

// MarshalYAML implements yaml.Marshaler preserving key order.
func (cnt *Container) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for _, key := range cnt.keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}

		valueNode := &yaml.Node{}

		err := valueNode.Encode(cnt.values[key])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", key, err)
		}

		node.Content = append(node.Content, keyNode, valueNode)
	}

	return node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler preserving document order.
func (cnt *Container) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: yaml node is not a mapping", ErrNotAContainer)
	}

	cnt.keys = make([]string, 0, len(node.Content)/2)
	cnt.values = make(map[string]any, len(node.Content)/2)

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		key := node.Content[idx].Value
		valueNode := node.Content[idx+1]

		value, err := decodeNode(valueNode)
		if err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}

		setErr := cnt.Set(key, value)
		if setErr != nil {
			return setErr
		}
	}

	return nil
}

func decodeNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		nested := New()

		err := nested.UnmarshalYAML(node)
		if err != nil {
			return nil, err
		}

		return nested, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(node.Content))

		for _, item := range node.Content {
			value, err := decodeNode(item)
			if err != nil {
				return nil, err
			}

			list = append(list, value)
		}

		return list, nil
	default:
		var value any

		err := node.Decode(&value)
		if err != nil {
			return nil, err
		}

		return value, nil
	}
}

// FromYAML parses a YAML document into a Container, preserving key order.
func FromYAML(data []byte) (*Container, error) {
	cnt := New()

	err := yaml.Unmarshal(data, cnt)
	if err != nil {
		return nil, fmt.Errorf("parse container yaml: %w", err)
	}

	return cnt, nil
}
