package topic

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		expect bool
	}{
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/x/c", false},
		{"a/+/c", "a//c", true},
		{"a/#", "a", true},
		{"a/#", "a/b", true},
		{"a/#", "a/b/c", true},
		{"a/#", "ab", false},
		{"a/#", "b/a", false},
		{"#", "a/b/c", true},
		{"#", "/", true},
		{"+", "a", true},
		{"+", "a/b", false},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+", "/finance", false},
		{"a/b", "a/b", true},
		{"a/b", "a/b/", false},
		{"a/b/", "a/b/", true},
		{"a/b", "a", false},
		{"a", "a/b", false},
		{"+/#", "a", true},
		{"a/+/#", "a/b", true},
		{"a/+/#", "a", false},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"$SYS/+", "$SYS/broker", true},
		{"a/+", "a/$x", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, Matches(tt.filter, tt.topic), "filter=%q topic=%q", tt.filter, tt.topic)
	}
}

func TestValidateFilter(t *testing.T) {
	valid := []string{"a", "a/b", "+", "#", "a/+/c", "a/#", "+/+/#", "/", "a//b", "$SYS/#"}
	for _, f := range valid {
		assert.NoError(t, ValidateFilter(f), f)
	}

	invalid := []string{"", "a/#/b", "a#", "a/b#", "a+/b", "a/+b", "##", "#/a", "a/\x00"}
	for _, f := range invalid {
		assert.ErrorIs(t, ValidateFilter(f), ErrFilterInvalid, f)
	}
}

func TestValidateTopicName(t *testing.T) {
	assert.NoError(t, ValidateTopicName("a/b/c"))
	assert.NoError(t, ValidateTopicName("/"))
	assert.ErrorIs(t, ValidateTopicName(""), ErrTopicInvalid)
	assert.ErrorIs(t, ValidateTopicName("a/+"), ErrTopicInvalid)
	assert.ErrorIs(t, ValidateTopicName("a/#"), ErrTopicInvalid)
}

// referenceMatch is a recursive restatement of the wildcard rules used to cross-check Matches.
func referenceMatch(filter, topic []string) bool {
	if len(filter) == 0 {
		return len(topic) == 0
	}
	switch filter[0] {
	case "#":
		return true
	case "+":
		return len(topic) > 0 && referenceMatch(filter[1:], topic[1:])
	default:
		return len(topic) > 0 && topic[0] == filter[0] && referenceMatch(filter[1:], topic[1:])
	}
}

func TestMatchesProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alphabet := []string{"a", "b", "", "$x"}

	randomTopic := func() []string {
		n := 1 + rng.Intn(4)
		levels := make([]string, n)
		for i := range levels {
			levels[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return levels
	}

	for i := 0; i < 5000; i++ {
		topicLevels := randomTopic()
		filterLevels := randomTopic()
		for j := range filterLevels {
			if rng.Intn(3) == 0 {
				filterLevels[j] = "+"
			}
		}
		if rng.Intn(3) == 0 {
			filterLevels[len(filterLevels)-1] = "#"
		}

		filter := strings.Join(filterLevels, "/")
		name := strings.Join(topicLevels, "/")
		if filter == "" || name == "" {
			continue
		}
		if !assert.NoError(t, ValidateFilter(filter)) {
			continue
		}

		expect := referenceMatch(filterLevels, topicLevels)
		if strings.HasPrefix(name, "$") && (filterLevels[0] == "+" || filterLevels[0] == "#") {
			expect = false
		}
		assert.Equal(t, expect, Matches(filter, name), "filter=%q topic=%q", filter, name)
	}
}
