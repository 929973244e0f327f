// Package topic matches publish topic names against subscription filters.
package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrFilterInvalid = errors.New("filter invalid")
	ErrTopicInvalid  = errors.New("topic name invalid")
)

const (
	separator      = "/"
	singleWildcard = "+"
	multiWildcard  = "#"
	systemPrefix   = '$'
)

// ValidateFilter checks a subscription filter: '+' and '#' must occupy a whole level and '#' must be last.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty filter", ErrFilterInvalid)
	}
	if !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrFilterInvalid, filter)
	}

	levels := strings.Split(filter, separator)
	for i, level := range levels {
		if strings.Contains(level, multiWildcard) {
			if level != multiWildcard {
				return fmt.Errorf("%w: '#' must occupy a whole level in %q", ErrFilterInvalid, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrFilterInvalid, filter)
			}
		}
		if strings.Contains(level, singleWildcard) && level != singleWildcard {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrFilterInvalid, filter)
		}
	}
	return nil
}

// ValidateTopicName checks a publish topic: non-empty, UTF-8 and free of wildcards.
func ValidateTopicName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty topic", ErrTopicInvalid)
	}
	if !utf8.ValidString(name) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrTopicInvalid, name)
	}
	if strings.ContainsAny(name, singleWildcard+multiWildcard) {
		return fmt.Errorf("%w: wildcards are not allowed in %q", ErrTopicInvalid, name)
	}
	return nil
}

// Matches reports whether the topic name is selected by the filter. The filter is assumed valid.
// Topics starting with '$' are never matched by a filter whose first level is a wildcard.
func Matches(filter, topic string) bool {
	if topic != "" && topic[0] == systemPrefix {
		if strings.HasPrefix(filter, singleWildcard) || strings.HasPrefix(filter, multiWildcard) {
			return false
		}
	}

	filterLevels := strings.Split(filter, separator)
	topicLevels := strings.Split(topic, separator)

	for i, level := range filterLevels {
		if level == multiWildcard {
			// "a/#" also matches the parent level "a"
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != singleWildcard && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
