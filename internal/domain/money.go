/**
 * @description
 * Monetary amounts for the card ledger. Amounts travel over the wire as decimal
 * USD values and are held internally as int64 cents so running totals never
 * accumulate floating-point error.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal parsing and formatting.
 */

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// plainDecimal admits only sign, digits and an optional fraction. Exponent
// notation is refused before it reaches the decimal parser, whose cost grows
// with the exponent.
var plainDecimal = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

const maxAmountLength = 32

// MaxMoney bounds any single amount so that sums of amounts stay far away from int64 overflow.
const MaxMoney Money = 1_000_000_000_000_00

// Money is an amount of USD expressed in cents.
type Money int64

// ParseMoney parses a decimal string such as "200", "200.5" or "200.50" into cents.
// More than two fractional digits are rejected rather than rounded, and so is
// exponent notation such as "1e5".
func ParseMoney(raw string) (Money, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	if len(value) > maxAmountLength || !plainDecimal.MatchString(value) {
		return 0, fmt.Errorf("amount %q is not a plain decimal number", raw)
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a decimal number", raw)
	}

	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than two decimal places", raw)
	}
	if cents.Abs().GreaterThan(decimal.NewFromInt(int64(MaxMoney))) {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}

	return Money(cents.IntPart()), nil
}

// MustParseMoney is ParseMoney for constants and tests; it panics on bad input.
func MustParseMoney(raw string) Money {
	m, err := ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in dollars.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats the amount with exactly two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a bare JSON number, e.g. 200.00.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw RawAmount
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := ParseMoney(string(raw))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// RawAmount is the unparsed text of an amount as the caller sent it. Parsing is
// left to the event validator so a bad amount becomes a MalformedEvent rejection
// instead of a decode failure.
type RawAmount string

// UnmarshalJSON keeps numbers verbatim and unwraps strings, since the dashboard
// form submits amounts as strings.
func (a *RawAmount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = RawAmount(strings.TrimSpace(s))
		return nil
	}
	*a = RawAmount(trimmed)
	return nil
}

// AmountOf builds a RawAmount pointer from text.
func AmountOf(text string) *RawAmount {
	a := RawAmount(text)
	return &a
}
