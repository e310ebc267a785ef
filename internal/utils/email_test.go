package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"recipient@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"", false},
		{"not-an-email", false},
		{"missing@domain", false},
		{"@example.com", false},
		{"spaces in@example.com", false},
		{"Display Name <someone@example.com>", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidEmail(tt.addr), "addr %q", tt.addr)
		})
	}
}
