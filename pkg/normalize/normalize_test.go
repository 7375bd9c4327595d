package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"lowercases and trims", "  Jane.Doe@Example.COM ", "jane.doe@example.com", true},
		{"already normalized", "a@x.com", "a@x.com", true},
		{"missing at sign", "not-an-email", "", false},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Email(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"formatted", "(555) 123-4567", "5551234567", true},
		{"bare digits", "5551234567", "5551234567", true},
		{"leading country one", "1-555-123-4567", "5551234567", true},
		{"eleven digits not starting with one", "25551234567", "", false},
		{"too short", "123456", "", false},
		{"too long", "555123456789", "", false},
		{"letters only", "call me", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Phone(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
		ok    bool
	}{
		{"simple", "Jane", "Doe", "Jane Doe", true},
		{"extra whitespace", "  Jane ", "  Doe  ", "Jane Doe", true},
		{"single token", "Jane", "", "", false},
		{"empty", "", "", "", false},
		{"html fragment", "Jane", "<script>", "", false},
		{"url", "Jane", "http://spam.example", "", false},
		{"www prefix", "Jane", "www.spam.example", "", false},
		{"mostly digits", "Order", "12345678", "", false},
		{"few digits allowed", "Jane", "Doe 2nd", "Jane Doe 2nd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Name(tt.first, tt.last)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
