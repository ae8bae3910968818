// Package schema defines the canonical record types shared across the
// ingestion pipeline: contracts, trades, order books, candles and news.
package schema

import (
	"strings"

	"github.com/foggle/foggle/errs"
)

// SecurityType identifies the instrument class of a contract.
type SecurityType string

const (
	// SecurityStock marks an equity instrument.
	SecurityStock SecurityType = "STK"
	// SecurityFuture marks a dated futures contract.
	SecurityFuture SecurityType = "FUT"
	// SecurityOption marks an option contract.
	SecurityOption SecurityType = "OPT"
	// SecurityPerpetual marks a perpetual swap.
	SecurityPerpetual SecurityType = "PERP"
	// SecurityCrypto marks a spot crypto instrument.
	SecurityCrypto SecurityType = "CRYPTO"
	// SecurityForex marks a currency pair.
	SecurityForex SecurityType = "FOREX"
	// SecurityIndex marks an index.
	SecurityIndex SecurityType = "IND"
)

// OptionRight identifies an option's right.
type OptionRight string

const (
	// RightCall marks a call option.
	RightCall OptionRight = "C"
	// RightPut marks a put option.
	RightPut OptionRight = "P"
)

// Contract is the canonical instrument identity. Two contracts are the same
// row if and only if every field matches; empty optional fields compare as
// equal to each other, they are never ignored.
type Contract struct {
	Symbol     string
	SecType    SecurityType
	Exchange   string
	Currency   string
	Multiplier int
	Expiration string // YYYYMMDD, empty when not applicable
	Strike     string
	Right      OptionRight
}

// Key is the comparable full-identity tuple used for cache lookups.
type Key struct {
	Symbol     string
	SecType    SecurityType
	Exchange   string
	Currency   string
	Multiplier int
	Expiration string
	Strike     string
	Right      OptionRight
}

// Key returns the comparable identity tuple for the contract.
func (c Contract) Key() Key {
	return Key{
		Symbol:     c.Symbol,
		SecType:    c.SecType,
		Exchange:   c.Exchange,
		Currency:   c.Currency,
		Multiplier: c.multiplierOrDefault(),
		Expiration: c.Expiration,
		Strike:     c.Strike,
		Right:      c.Right,
	}
}

func (c Contract) multiplierOrDefault() int {
	if c.Multiplier <= 0 {
		return 1
	}
	return c.Multiplier
}

// Normalize returns a copy with trimmed fields and the default multiplier
// applied.
func (c Contract) Normalize() Contract {
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.Exchange = strings.TrimSpace(c.Exchange)
	c.Currency = strings.TrimSpace(c.Currency)
	c.Expiration = strings.TrimSpace(c.Expiration)
	c.Strike = strings.TrimSpace(c.Strike)
	c.Multiplier = c.multiplierOrDefault()
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c
}

// Validate checks the mandatory identity fields.
func (c Contract) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("contract symbol required"))
	}
	if strings.TrimSpace(string(c.SecType)) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("contract security type required"))
	}
	if strings.TrimSpace(c.Exchange) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("contract exchange required"))
	}
	return nil
}
