// Package testutil provides the test harness pipeline modules use:
// literal/regex output comparators and an in-process session fixture.
package testutil

import (
	"fmt"
	"regexp"
	"strings"
)

// Comparator matches one expected line of output.
type Comparator interface {
	// Match reports whether the actual line satisfies the expectation.
	Match(actual string) bool

	// Describe renders the expectation for failure messages.
	Describe() string
}

// Literal matches an exact line.
type Literal string

// Match reports an exact string match.
func (literal Literal) Match(actual string) bool {
	return string(literal) == actual
}

// Describe renders the literal.
func (literal Literal) Describe() string {
	return fmt.Sprintf("%q", string(literal))
}

// Regex matches a line against a pattern.
type Regex string

// Match reports whether the pattern matches anywhere in the line.
func (regex Regex) Match(actual string) bool {
	matched, err := regexp.MatchString(string(regex), actual)

	return err == nil && matched
}

// Describe renders the pattern.
func (regex Regex) Describe() string {
	return fmt.Sprintf("/%s/", string(regex))
}

// ContainsInOrder checks that every comparator matches some line of the
// output, in order. Returns "" on success or a failure description.
func ContainsInOrder(output string, expected ...Comparator) string {
	lines := strings.Split(output, "\n")
	cursor := 0

	for _, comparator := range expected {
		found := false

		for ; cursor < len(lines); cursor++ {
			if comparator.Match(lines[cursor]) {
				found = true
				cursor++

				break
			}
		}

		if !found {
			return fmt.Sprintf("expected %s after line %d, not found",
				comparator.Describe(), cursor)
		}
	}

	return ""
}
