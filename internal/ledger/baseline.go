package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

// StaticBaseline serves baseline items from memory, keyed by period.
type StaticBaseline map[string][]domain.Item

// Items returns a copy of the period's baseline items.
func (b StaticBaseline) Items(_ context.Context, period string) ([]domain.Item, error) {
	items := b[period]
	out := make([]domain.Item, len(items))
	copy(out, items)
	return out, nil
}

// DefaultBaseline is the consolidated December 2025 position of the company.
func DefaultBaseline() StaticBaseline {
	entries := map[string][]baselineEntry{
		"2025-12": {
			{Kind: domain.KindIncome, Name: "Starken", Amount: decimal.RequireFromString("29833.00"), Category: "Receita Starken", Status: domain.StatusReceived},
			{Kind: domain.KindIncome, Name: "Alpha", Amount: decimal.RequireFromString("25149.75"), Category: "Royalties Alpha", Status: domain.StatusReceived},
			{Kind: domain.KindExpense, Name: "Despesas operacionais", Amount: decimal.RequireFromString("31869.90"), Category: "Operacional", Status: domain.StatusPaid},
		},
	}
	out, err := buildBaseline(entries)
	if err != nil {
		panic(err)
	}
	return out
}

type baselineEntry struct {
	Kind     domain.Kind     `json:"kind"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
	Status   domain.Status   `json:"status"`
	DueDate  string          `json:"dueDate"`
}

func buildBaseline(entries map[string][]baselineEntry) (StaticBaseline, error) {
	out := make(StaticBaseline, len(entries))
	for period, list := range entries {
		if !domain.ValidPeriod(period) {
			return nil, fmt.Errorf("ledger: baseline period %q: expected YYYY-MM", period)
		}
		for i, e := range list {
			if !e.Kind.Valid() {
				return nil, fmt.Errorf("ledger: baseline %s[%d]: invalid kind %q", period, i, e.Kind)
			}
			if strings.TrimSpace(e.Name) == "" {
				return nil, fmt.Errorf("ledger: baseline %s[%d]: name is required", period, i)
			}
			status := e.Status
			if status == "" {
				status = domain.OpenStatus(e.Kind)
			}
			if err := domain.ValidateStatus(e.Kind, status); err != nil {
				return nil, fmt.Errorf("ledger: baseline %s[%d]: %w", period, i, err)
			}
			out[period] = append(out[period], domain.Item{
				Period:   period,
				Kind:     e.Kind,
				Name:     strings.TrimSpace(e.Name),
				Amount:   e.Amount,
				Category: e.Category,
				Status:   status,
				DueDate:  e.DueDate,
				Source:   domain.SourceBaseline,
			})
		}
	}
	return out, nil
}

// ParamGetter reads a named parameter.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamBaseline loads the baseline from a JSON parameter on first use. The
// parameter maps periods to lists of {kind, name, amount, category, status}.
// A failed load is retried on the next call.
type ParamBaseline struct {
	params ParamGetter
	name   string

	mu     sync.RWMutex
	loaded StaticBaseline
}

// NewParamBaseline creates a ParamBaseline reading parameter name.
func NewParamBaseline(params ParamGetter, name string) (*ParamBaseline, error) {
	if params == nil {
		return nil, errors.New("ledger: param getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("ledger: baseline parameter name must not be empty")
	}
	return &ParamBaseline{params: params, name: name}, nil
}

// Items returns the period's baseline items.
func (b *ParamBaseline) Items(ctx context.Context, period string) ([]domain.Item, error) {
	b.mu.RLock()
	loaded := b.loaded
	b.mu.RUnlock()
	if loaded != nil {
		return loaded.Items(ctx, period)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded == nil {
		raw, err := b.params.GetParameter(ctx, b.name)
		if err != nil {
			return nil, fmt.Errorf("ledger: load baseline: %w", err)
		}
		var entries map[string][]baselineEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("ledger: decode baseline: %w", err)
		}
		parsed, err := buildBaseline(entries)
		if err != nil {
			return nil, err
		}
		b.loaded = parsed
	}
	return b.loaded.Items(ctx, period)
}
