// Package specialline models item-code line prefixes flagged for extra
// scrutiny during count closing.
package specialline

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"conteo/internal/core/id"
)

// PrefixLen is the fixed length of a line prefix within an item code.
const PrefixLen = 5

// SpecialLine overrides tolerance and alerting for every item whose code
// starts with Prefix.
type SpecialLine struct {
	ID           id.ID           `db:"id" json:"id"`
	Prefix       string          `db:"prefix" json:"prefix"`
	Name         string          `db:"name" json:"name"`
	TolerancePct decimal.Decimal `db:"tolerance_pct" json:"tolerance_pct"`
	Recipients   []string        `db:"recipients" json:"recipients"`
	Active       bool            `db:"active" json:"active"`
}

// Matches reports whether an item code belongs to this line.
func (l SpecialLine) Matches(itemCode string) bool {
	if len(itemCode) < PrefixLen {
		return false
	}
	return strings.EqualFold(itemCode[:PrefixLen], l.Prefix)
}

// Repository is the persistence contract for special lines.
type Repository interface {
	ListActive(ctx context.Context) ([]SpecialLine, error)
	GetByID(ctx context.Context, lineID id.ID) (*SpecialLine, error)
	Create(ctx context.Context, line *SpecialLine) error
	Update(ctx context.Context, line *SpecialLine) error
	Delete(ctx context.Context, lineID id.ID) error
}
