package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes money going out from money coming in.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindExpense || k == KindIncome
}

// Status is the settlement state of an item. Allowed values depend on the kind.
type Status string

const (
	StatusPayable    Status = "Payable"
	StatusPaid       Status = "Paid"
	StatusReceivable Status = "Receivable"
	StatusReceived   Status = "Received"
)

// OpenStatus returns the unsettled status for a kind.
func OpenStatus(k Kind) Status {
	if k == KindIncome {
		return StatusReceivable
	}
	return StatusPayable
}

// SettledStatus returns the settled status for a kind.
func SettledStatus(k Kind) Status {
	if k == KindIncome {
		return StatusReceived
	}
	return StatusPaid
}

// ValidateStatus checks that s is allowed for kind k.
func ValidateStatus(k Kind, s Status) error {
	if s == OpenStatus(k) || s == SettledStatus(k) {
		return nil
	}
	return fmt.Errorf("status %q is not valid for %s (use %q or %q)", s, k, OpenStatus(k), SettledStatus(k))
}

// Source tells whether an item is a durable ledger record or comes from the
// read-only baseline dataset.
type Source string

const (
	SourceLedger   Source = "ledger"
	SourceBaseline Source = "baseline"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidPeriod reports whether p is a YYYY-MM key.
func ValidPeriod(p string) bool {
	return periodPattern.MatchString(p)
}

// Item is a single financial record scoped to a period.
type Item struct {
	ID          string          `json:"id,omitempty"`
	Period      string          `json:"period"`
	Kind        Kind            `json:"kind"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Status      Status          `json:"status"`
	DueDate     string          `json:"dueDate,omitempty"`
	SettledDate string          `json:"settledDate,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitzero"`
	Source      Source          `json:"source"`
}

// Key returns the natural identity of the item.
func (i Item) Key() ItemKey {
	return ItemKey{Period: i.Period, Kind: i.Kind, Name: i.Name}
}

// ItemKey identifies an item by (period, kind, name).
type ItemKey struct {
	Period string `json:"period"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}

// Normalized returns the lookup form of the key name.
func (k ItemKey) Normalized() string {
	return NameKey(k.Name)
}

// Matches reports whether the item carries this key.
func (k ItemKey) Matches(i Item) bool {
	return i.Period == k.Period && i.Kind == k.Kind && NameKey(i.Name) == k.Normalized()
}

// NameKey folds a name for comparisons. Stored names keep their spelling.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// StatusOverride overlays a status change on an item that is not stored as a
// durable record.
type StatusOverride struct {
	ItemKey
	Status      Status    `json:"status"`
	SettledDate string    `json:"settledDate,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// EditOverride overlays field edits. Nil fields are left unchanged.
type EditOverride struct {
	ItemKey
	NewName     *string          `json:"newName,omitempty"`
	NewAmount   *decimal.Decimal `json:"newAmount,omitempty"`
	NewCategory *string          `json:"newCategory,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt,omitzero"`
}

// Merge returns o with the non-nil fields of next applied on top.
func (o EditOverride) Merge(next EditOverride) EditOverride {
	if next.NewName != nil {
		o.NewName = next.NewName
	}
	if next.NewAmount != nil {
		o.NewAmount = next.NewAmount
	}
	if next.NewCategory != nil {
		o.NewCategory = next.NewCategory
	}
	if !next.UpdatedAt.IsZero() {
		o.UpdatedAt = next.UpdatedAt
	}
	return o
}

// DeletionMarker suppresses a baseline item from every view.
type DeletionMarker struct {
	ItemKey
	DeletedAt time.Time `json:"deletedAt,omitzero"`
}

// Overlays holds every overlay record of one period.
type Overlays struct {
	Statuses  []StatusOverride
	Edits     []EditOverride
	Deletions []DeletionMarker
}
