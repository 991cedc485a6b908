package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		page, size         string
		wantPage, wantSize int
	}{
		{"", "", 1, DefaultPageSize},
		{"3", "50", 3, 50},
		{"-1", "0", 1, DefaultPageSize},
		{"x", "1000", 1, MaxPageSize},
	}

	for _, tt := range tests {
		page, size := ParsePagination(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$63.00", FormatCurrency(decimal.NewFromInt(63), "USD"))
	assert.Equal(t, "5.50 NGN", FormatCurrency(decimal.RequireFromString("5.5"), "NGN"))
}

func TestReferenceGeneratorIsUnique(t *testing.T) {
	gen, err := NewReferenceGenerator(1)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref := gen.Generate("pay")
		assert.True(t, strings.HasPrefix(ref, "PAY_"))
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}

	_, err = NewReferenceGenerator(5000)
	assert.Error(t, err)
}
