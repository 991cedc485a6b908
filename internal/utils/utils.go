package utils

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Pagination defaults
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ParsePagination reads page and page_size query values, falling back to defaults
func ParsePagination(pageStr, sizeStr string) (page, pageSize int) {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err = strconv.Atoi(sizeStr)
	if err != nil || pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize
}

// FormatCurrency formats an amount with two decimals
func FormatCurrency(amount decimal.Decimal, currency string) string {
	switch currency {
	case "USD":
		return "$" + amount.StringFixed(2)
	case "EUR":
		return "€" + amount.StringFixed(2)
	case "GBP":
		return "£" + amount.StringFixed(2)
	default:
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
	}
}
