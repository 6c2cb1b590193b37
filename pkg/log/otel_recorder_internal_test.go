package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestKVToOtelAttributes(t *testing.T) {
	tests := []struct {
		name     string
		input    []any
		expected []attribute.KeyValue
	}{
		{
			name:     "empty",
			input:    []any{},
			expected: []attribute.KeyValue{},
		},
		{
			name:  "typed values",
			input: []any{"s", "v", "i", 42, "b", true, "u", uint16(7), "f", 1.5, "err", errors.New("boom"), "str", stringer{}},
			expected: []attribute.KeyValue{
				attribute.String("s", "v"),
				attribute.Int("i", 42),
				attribute.Bool("b", true),
				attribute.Int64("u", 7),
				attribute.Float64("f", 1.5),
				attribute.String("err", "boom"),
				attribute.String("str", "stringer"),
			},
		},
		{
			name:  "missing value",
			input: []any{"k", "v", "dangling"},
			expected: []attribute.KeyValue{
				attribute.String("k", "v"),
				attribute.String("dangling", missingAttributeValue),
			},
		},
		{
			name:  "non-string key",
			input: []any{"k", "v", 7, "x"},
			expected: []attribute.KeyValue{
				attribute.String("k", "v"),
				attribute.String(invalidAttributeKey, "[7 x]"),
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, kvToOtelAttributes(test.input...))
		})
	}
}
