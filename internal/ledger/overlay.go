package ledger

import (
	"context"
	"fmt"

	"stark-agent/internal/domain"
)

// Target tells which path a mutation took.
type Target string

const (
	TargetRecord  Target = "record"
	TargetOverlay Target = "overlay"
	TargetBoth    Target = "record+overlay"
)

// overlayRule parameterizes resolveOrOverlay for one operation. Exactly one of
// mutate and remove applies to durable records.
type overlayRule struct {
	mutate  func(domain.Item) domain.Item
	remove  bool
	overlay func(ctx context.Context) error
	// shadowsBaseline also writes the overlay when durable records matched
	// but a baseline item shares the key.
	shadowsBaseline bool
}

// resolveOrOverlay applies a change to every durable record matching key and
// falls back to the overlay write when none exists. Durable records always win.
func (s *Service) resolveOrOverlay(ctx context.Context, key domain.ItemKey, rule overlayRule) (Mutation, error) {
	matches, err := s.store.FindItems(ctx, key)
	if err != nil {
		return Mutation{}, fmt.Errorf("ledger: find %s %q: %w", key.Kind, key.Name, err)
	}

	if len(matches) == 0 {
		if err := rule.overlay(ctx); err != nil {
			return Mutation{}, fmt.Errorf("ledger: write overlay for %s %q: %w", key.Kind, key.Name, err)
		}
		return Mutation{Target: TargetOverlay, Affected: 0}, nil
	}

	out := Mutation{Target: TargetRecord}
	for _, item := range matches {
		if rule.remove {
			if err := s.store.DeleteItem(ctx, item); err != nil {
				return out, fmt.Errorf("ledger: delete %s: %w", item.ID, err)
			}
		} else {
			item = rule.mutate(item)
			if err := s.store.UpdateItem(ctx, item); err != nil {
				return out, fmt.Errorf("ledger: update %s: %w", item.ID, err)
			}
		}
		out.Affected++
		out.Items = append(out.Items, item)
	}

	if rule.shadowsBaseline {
		shadowed, err := s.baselineHas(ctx, key)
		if err != nil {
			return out, err
		}
		if shadowed {
			if err := rule.overlay(ctx); err != nil {
				return out, fmt.Errorf("ledger: write overlay for %s %q: %w", key.Kind, key.Name, err)
			}
			out.Target = TargetBoth
		}
	}
	return out, nil
}

func (s *Service) baselineHas(ctx context.Context, key domain.ItemKey) (bool, error) {
	items, err := s.baseline.Items(ctx, key.Period)
	if err != nil {
		return false, fmt.Errorf("ledger: load baseline %s: %w", key.Period, err)
	}
	for _, item := range items {
		if key.Matches(item) {
			return true, nil
		}
	}
	return false, nil
}
