// Package folio provides domain contracts for sequential document numbering.
// Counts and adjustment requests each draw from their own series.
// Implementations live in the infrastructure layer.
package folio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Generator issues sequential folios.
type Generator interface {
	// NextN reserves the next n numbers of the series for the given period in
	// one local-store round trip and returns them formatted.
	// Numbers are monotonic and collision-free within a series prefix.
	NextN(ctx context.Context, cfg Config, period time.Time, n int) ([]string, error)
}

// Config holds numbering configuration for one series.
type Config struct {
	// Prefix identifies the series (e.g. "CNT" for counts, "SOL" for requests)
	Prefix string

	// PadWidth is the minimum number width (default 4)
	PadWidth int

	// ResetPeriod: "month", "year", "never"
	ResetPeriod string
}

// DefaultConfig returns the standard monthly-reset series.
// Pattern: PREFIX-YYYYMM-XXXX (e.g. CNT-202405-0012).
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		PadWidth:    4,
		ResetPeriod: "month",
	}
}

// SeriesKey builds the sequence key for config and period.
func (c Config) SeriesKey(period time.Time) string {
	switch c.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s_%s", c.Prefix, period.Format("200601"))
	case "year":
		return fmt.Sprintf("%s_%s", c.Prefix, period.Format("2006"))
	default:
		return c.Prefix
	}
}

// Format renders one folio for config, period and sequence number.
func (c Config) Format(period time.Time, num int64) string {
	pad := c.PadWidth
	if pad == 0 {
		pad = 4
	}
	switch c.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s-%s-%0*d", c.Prefix, period.Format("200601"), pad, num)
	case "year":
		return fmt.Sprintf("%s-%s-%0*d", c.Prefix, period.Format("2006"), pad, num)
	default:
		return fmt.Sprintf("%s-%0*d", c.Prefix, pad, num)
	}
}

// LikePattern returns the SQL LIKE pattern matching folios of this series.
func (c Config) LikePattern(period time.Time) string {
	switch c.ResetPeriod {
	case "month":
		return c.Prefix + "-" + period.Format("200601") + "-%"
	case "year":
		return c.Prefix + "-" + period.Format("2006") + "-%"
	default:
		return c.Prefix + "-%"
	}
}

// ParseSeq extracts the numeric tail from a formatted folio.
// Returns -1 if the folio does not parse.
func ParseSeq(formatted string) int64 {
	idx := strings.LastIndex(formatted, "-")
	if idx < 0 || idx == len(formatted)-1 {
		return -1
	}
	num, err := strconv.ParseInt(formatted[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return num
}
