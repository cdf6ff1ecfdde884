// Package util provides small shared primitives: the frozen session
// timestamp and nested-mapping helpers.
package util

// MapNestedKeys returns the dotted key paths of every leaf in a nested
// string-keyed mapping, in map iteration order of each level.
func MapNestedKeys(mapping map[string]any) [][]string {
	var keys [][]string

	for key, value := range mapping {
		nested, isMap := value.(map[string]any)
		if !isMap || len(nested) == 0 {
			keys = append(keys, []string{key})

			continue
		}

		for _, sub := range MapNestedKeys(nested) {
			keys = append(keys, append([]string{key}, sub...))
		}
	}

	return keys
}

// MergeMappings deep-merges two nested string-keyed mappings. Nested maps
// merge recursively, slices concatenate, and any other value from the right
// side wins. Neither input is mutated.
func MergeMappings(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))

	for key, value := range base {
		merged[key] = value
	}

	for key, value := range overlay {
		current, exists := merged[key]
		if !exists {
			merged[key] = value

			continue
		}

		currentMap, currentIsMap := current.(map[string]any)
		valueMap, valueIsMap := value.(map[string]any)

		if currentIsMap && valueIsMap {
			merged[key] = MergeMappings(currentMap, valueMap)

			continue
		}

		currentSlice, currentIsSlice := current.([]any)
		valueSlice, valueIsSlice := value.([]any)

		if currentIsSlice && valueIsSlice {
			joined := make([]any, 0, len(currentSlice)+len(valueSlice))
			joined = append(joined, currentSlice...)
			joined = append(joined, valueSlice...)
			merged[key] = joined

			continue
		}

		merged[key] = value
	}

	return merged
}
