package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// numericFromOptional converts an optional decimal string into a
// pgtype.Numeric, leaving it invalid (SQL NULL) when empty.
func numericFromOptional(value string) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	if err := out.Scan(trimmed); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return out, nil
}

// nullableText maps an empty string to SQL NULL.
func nullableText(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

// dateFromCompact parses a YYYYMMDD expiration into a date, mapping the
// empty string to SQL NULL.
func dateFromCompact(value string) (any, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse("20060102", trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse expiration %q: %w", trimmed, err)
	}
	return parsed, nil
}
