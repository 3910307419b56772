// Package sequence allocates gapless, human-readable document numbers
// (PREFIX-YY-NNNNN) from a table-backed counter per numbering scope.
package sequence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEmptyScope = errors.New("numbering scope is empty")

// Counter is one row per numbering scope. NextValue is the value the next
// allocation will hand out.
type Counter struct {
	ScopeKey  string `gorm:"primaryKey;size:32" json:"scope_key"`
	NextValue int64  `gorm:"not null" json:"next_value"`
}

func (Counter) TableName() string { return "invoice_number_sequences" }

// Number is an allocated document number.
type Number struct {
	Scope string
	Value int64
	Text  string
}

// Allocator issues numbers for one prefix; the year of the document date in
// Location selects the scope.
type Allocator struct {
	Prefix   string
	Location *time.Location
}

func NewAllocator(prefix string, loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{Prefix: strings.ToUpper(prefix), Location: loc}
}

func (a *Allocator) ScopeFor(at time.Time) string {
	return ScopeKey(a.Prefix, at.In(a.Location).Year())
}

// Issue allocates the next number. tx must be the transaction that persists
// the numbered row, so a rollback returns the number to the pool.
func (a *Allocator) Issue(tx *gorm.DB, at time.Time) (Number, error) {
	year := at.In(a.Location).Year()
	scope := ScopeKey(a.Prefix, year)
	value, err := Next(tx, scope)
	if err != nil {
		return Number{}, err
	}
	return Number{Scope: scope, Value: value, Text: Format(a.Prefix, year, value)}, nil
}

func ScopeKey(prefix string, year int) string {
	return fmt.Sprintf("%s-%04d", prefix, year)
}

func Format(prefix string, year int, value int64) string {
	return fmt.Sprintf("%s-%02d-%05d", prefix, year%100, value)
}

// Next increments the scope counter and returns the value allocated to the
// caller. The UPDATE takes the row lock, so concurrent transactions on the
// same scope serialize until commit or rollback.
func Next(tx *gorm.DB, scope string) (int64, error) {
	if scope == "" {
		return 0, ErrEmptyScope
	}
	seed := &Counter{ScopeKey: scope, NextValue: 1}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_key"}},
		DoNothing: true,
	}).Create(seed).Error; err != nil {
		return 0, fmt.Errorf("ensure scope %s: %w", scope, err)
	}

	res := tx.Model(&Counter{}).
		Where("scope_key = ?", scope).
		UpdateColumn("next_value", gorm.Expr("next_value + ?", 1))
	if res.Error != nil {
		return 0, fmt.Errorf("advance scope %s: %w", scope, res.Error)
	}
	if res.RowsAffected != 1 {
		return 0, fmt.Errorf("advance scope %s: %d rows affected", scope, res.RowsAffected)
	}

	var c Counter
	if err := tx.Where("scope_key = ?", scope).Take(&c).Error; err != nil {
		return 0, fmt.Errorf("read scope %s: %w", scope, err)
	}
	return c.NextValue - 1, nil
}

// Peek returns the value the next allocation in scope would receive.
func Peek(db *gorm.DB, scope string) (int64, error) {
	var c Counter
	err := db.Where("scope_key = ?", scope).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return c.NextValue, nil
}
