package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Totals sums amounts per kind.
type Totals struct {
	Receitas decimal.Decimal `json:"receitas"`
	Despesas decimal.Decimal `json:"despesas"`
}

// Listing is the result of List.
type Listing struct {
	Period string          `json:"period"`
	View   View            `json:"view"`
	Items  []domain.Item   `json:"items"`
	Totals Totals          `json:"totals"`
	Saldo  decimal.Decimal `json:"saldo"`
}

// List returns the items of a period filtered by kind ("expense", "income" or
// "all") with per-kind totals and the balance.
func (s *Service) List(ctx context.Context, period, kind string, view View) (Listing, error) {
	if !domain.ValidPeriod(period) {
		return Listing{}, invalid("period", "expected YYYY-MM")
	}
	filter, err := parseKind(kind)
	if err != nil {
		return Listing{}, err
	}
	view, err = parseView(view)
	if err != nil {
		return Listing{}, err
	}

	items, err := s.items(ctx, period, filter, view)
	if err != nil {
		return Listing{}, err
	}
	totals := sumByKind(items)
	return Listing{
		Period: period,
		View:   view,
		Items:  items,
		Totals: totals,
		Saldo:  totals.Receitas.Sub(totals.Despesas),
	}, nil
}

// Counts holds item counts per kind.
type Counts struct {
	Receitas int `json:"receitas"`
	Despesas int `json:"despesas"`
}

// Summary is the result of FinancialSummary.
type Summary struct {
	Period               string                     `json:"period"`
	View                 View                       `json:"view"`
	Receitas             decimal.Decimal            `json:"receitas"`
	Despesas             decimal.Decimal            `json:"despesas"`
	Saldo                decimal.Decimal            `json:"saldo"`
	Margem               string                     `json:"margem"`
	DespesasPorCategoria map[string]decimal.Decimal `json:"despesasPorCategoria"`
	ReceitasPorCategoria map[string]decimal.Decimal `json:"receitasPorCategoria"`
	Contagem             Counts                     `json:"contagem"`
}

// FinancialSummary aggregates a period.
func (s *Service) FinancialSummary(ctx context.Context, period string, view View) (Summary, error) {
	if !domain.ValidPeriod(period) {
		return Summary{}, invalid("period", "expected YYYY-MM")
	}
	view, err := parseView(view)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.items(ctx, period, "", view)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		Period:               period,
		View:                 view,
		DespesasPorCategoria: map[string]decimal.Decimal{},
		ReceitasPorCategoria: map[string]decimal.Decimal{},
	}
	for _, item := range items {
		category := item.Category
		if category == "" {
			category = "Sem categoria"
		}
		switch item.Kind {
		case domain.KindIncome:
			out.Receitas = out.Receitas.Add(item.Amount)
			out.ReceitasPorCategoria[category] = out.ReceitasPorCategoria[category].Add(item.Amount)
			out.Contagem.Receitas++
		case domain.KindExpense:
			out.Despesas = out.Despesas.Add(item.Amount)
			out.DespesasPorCategoria[category] = out.DespesasPorCategoria[category].Add(item.Amount)
			out.Contagem.Despesas++
		}
	}
	out.Saldo = out.Receitas.Sub(out.Despesas)
	out.Margem = Margin(out.Receitas, out.Despesas)
	return out, nil
}

// Margin returns (income-expense)/income*100 with one decimal, or "0.0" when
// income is zero.
func Margin(income, expense decimal.Decimal) string {
	if income.IsZero() {
		return decimal.Zero.StringFixed(1)
	}
	return income.Sub(expense).Div(income).Mul(hundred).Round(1).StringFixed(1)
}

func (s *Service) items(ctx context.Context, period string, kind domain.Kind, view View) ([]domain.Item, error) {
	durable, err := s.store.ListItems(ctx, period, kind)
	if err != nil {
		return nil, fmt.Errorf("ledger: list items %s: %w", period, err)
	}
	if view != ViewReconciled {
		return durable, nil
	}

	baseline, err := s.baseline.Items(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("ledger: load baseline %s: %w", period, err)
	}
	overlays, err := s.store.ListOverlays(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("ledger: list overlays %s: %w", period, err)
	}

	out := make([]domain.Item, 0, len(durable)+len(baseline))
	out = append(out, durable...)
	for _, item := range reconcile(baseline, overlays) {
		if kind == "" || item.Kind == kind {
			out = append(out, item)
		}
	}
	return out, nil
}

type overlayIndex struct {
	statuses  map[string]domain.StatusOverride
	edits     map[string]domain.EditOverride
	deletions map[string]bool
}

func indexKey(kind domain.Kind, name string) string {
	return string(kind) + "#" + domain.NameKey(name)
}

func newOverlayIndex(ov domain.Overlays) overlayIndex {
	idx := overlayIndex{
		statuses:  make(map[string]domain.StatusOverride, len(ov.Statuses)),
		edits:     make(map[string]domain.EditOverride, len(ov.Edits)),
		deletions: make(map[string]bool, len(ov.Deletions)),
	}
	for _, o := range ov.Statuses {
		idx.statuses[indexKey(o.Kind, o.Name)] = o
	}
	for _, o := range ov.Edits {
		k := indexKey(o.Kind, o.Name)
		idx.edits[k] = idx.edits[k].Merge(o)
	}
	for _, m := range ov.Deletions {
		idx.deletions[indexKey(m.Kind, m.Name)] = true
	}
	return idx
}

// reconcile applies overlays to baseline items. Overlays keyed by either the
// baseline name or the edited name apply; a deletion marker on either removes
// the item.
func reconcile(baseline []domain.Item, ov domain.Overlays) []domain.Item {
	idx := newOverlayIndex(ov)
	out := make([]domain.Item, 0, len(baseline))
	for _, item := range baseline {
		original := indexKey(item.Kind, item.Name)
		if idx.deletions[original] {
			continue
		}
		if edit, ok := idx.edits[original]; ok {
			if edit.NewName != nil {
				item.Name = *edit.NewName
			}
			if edit.NewAmount != nil {
				item.Amount = *edit.NewAmount
			}
			if edit.NewCategory != nil {
				item.Category = *edit.NewCategory
			}
		}
		current := indexKey(item.Kind, item.Name)
		if idx.deletions[current] {
			continue
		}
		status, ok := idx.statuses[current]
		if !ok {
			status, ok = idx.statuses[original]
		}
		if ok {
			item.Status = status.Status
			item.SettledDate = status.SettledDate
		}
		item.Source = domain.SourceBaseline
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return domain.NameKey(out[i].Name) < domain.NameKey(out[j].Name)
	})
	return out
}

func sumByKind(items []domain.Item) Totals {
	var t Totals
	for _, item := range items {
		switch item.Kind {
		case domain.KindIncome:
			t.Receitas = t.Receitas.Add(item.Amount)
		case domain.KindExpense:
			t.Despesas = t.Despesas.Add(item.Amount)
		}
	}
	return t
}
