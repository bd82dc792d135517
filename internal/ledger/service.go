package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

// Store is the persistence collaborator of the ledger.
type Store interface {
	CreateItem(ctx context.Context, item domain.Item) error
	UpdateItem(ctx context.Context, item domain.Item) error
	DeleteItem(ctx context.Context, item domain.Item) error
	ListItems(ctx context.Context, period string, kind domain.Kind) ([]domain.Item, error)
	FindItems(ctx context.Context, key domain.ItemKey) ([]domain.Item, error)
	UpsertStatusOverride(ctx context.Context, o domain.StatusOverride) error
	UpsertEditOverride(ctx context.Context, o domain.EditOverride) error
	UpsertDeletionMarker(ctx context.Context, m domain.DeletionMarker) error
	ListOverlays(ctx context.Context, period string) (domain.Overlays, error)
}

// Baseline supplies read-only items that are not stored in the ledger.
type Baseline interface {
	Items(ctx context.Context, period string) ([]domain.Item, error)
}

// View selects how listings are assembled.
type View string

const (
	// ViewRaw lists durable items only.
	ViewRaw View = "raw"
	// ViewReconciled adds baseline items with overlays applied.
	ViewReconciled View = "reconciled"
)

// KindAll lists both kinds.
const KindAll = "all"

// ValidationError reports bad input to a ledger operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Service implements the ledger operations available to the model.
type Service struct {
	store    Store
	baseline Baseline
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a Service. A nil baseline means no baseline items.
func NewService(store Store, baseline Baseline, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger: store must not be nil")
	}
	if baseline == nil {
		baseline = StaticBaseline{}
	}
	s := &Service{
		store:    store,
		baseline: baseline,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput describes a new item.
type CreateInput struct {
	Period      string
	Name        string
	Amount      decimal.Decimal
	Category    string
	Kind        domain.Kind
	Status      domain.Status
	DueDate     string
	SettledDate string
}

// CreateItem inserts one item. Status defaults to the open state of the kind.
func (s *Service) CreateItem(ctx context.Context, in CreateInput) (domain.Item, error) {
	item, err := s.buildItem(in)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return domain.Item{}, fmt.Errorf("ledger: create item: %w", err)
	}
	return item, nil
}

func (s *Service) buildItem(in CreateInput) (domain.Item, error) {
	if !domain.ValidPeriod(in.Period) {
		return domain.Item{}, invalid("period", "expected YYYY-MM")
	}
	if !in.Kind.Valid() {
		return domain.Item{}, invalid("kind", "expected expense or income")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Item{}, invalid("name", "must not be empty")
	}
	if in.Amount.IsNegative() {
		return domain.Item{}, invalid("amount", "must not be negative")
	}
	status := in.Status
	if status == "" {
		status = domain.OpenStatus(in.Kind)
	}
	if err := domain.ValidateStatus(in.Kind, status); err != nil {
		return domain.Item{}, invalid("status", err.Error())
	}

	return domain.Item{
		ID:          s.newID(),
		Period:      in.Period,
		Kind:        in.Kind,
		Name:        name,
		Amount:      in.Amount,
		Category:    strings.TrimSpace(in.Category),
		Status:      status,
		DueDate:     in.DueDate,
		SettledDate: in.SettledDate,
		CreatedAt:   s.now().UTC(),
		Source:      domain.SourceLedger,
	}, nil
}

// BatchEntryResult is the outcome of one batch entry.
type BatchEntryResult struct {
	Index   int          `json:"index"`
	Success bool         `json:"success"`
	Item    *domain.Item `json:"item,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// BatchResult aggregates a batch. Succeeded + Failed always equals Total.
type BatchResult struct {
	Results   []BatchEntryResult `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Total     int                `json:"total"`
}

// CreateBatch creates every entry independently. A failed entry does not stop
// the remaining ones.
func (s *Service) CreateBatch(ctx context.Context, entries []CreateInput) BatchResult {
	out := BatchResult{
		Results: make([]BatchEntryResult, 0, len(entries)),
		Total:   len(entries),
	}
	for i, in := range entries {
		item, err := s.CreateItem(ctx, in)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, BatchEntryResult{Index: i, Error: err.Error()})
			continue
		}
		out.Succeeded++
		out.Results = append(out.Results, BatchEntryResult{Index: i, Success: true, Item: &item})
	}
	return out
}

// Mutation reports where a change was applied.
type Mutation struct {
	Target   Target        `json:"target"`
	Affected int           `json:"affected"`
	Items    []domain.Item `json:"items,omitempty"`
}

// StatusInput changes the settlement state of an item.
type StatusInput struct {
	Key         domain.ItemKey
	Status      domain.Status
	SettledDate string
}

// UpdateStatus sets the status of the durable matches of the key, or records
// a status override when there are none.
func (s *Service) UpdateStatus(ctx context.Context, in StatusInput) (Mutation, error) {
	key, err := validateKey(in.Key)
	if err != nil {
		return Mutation{}, err
	}
	if err := domain.ValidateStatus(key.Kind, in.Status); err != nil {
		return Mutation{}, invalid("status", err.Error())
	}

	return s.resolveOrOverlay(ctx, key, overlayRule{
		mutate: func(item domain.Item) domain.Item {
			item.Status = in.Status
			item.SettledDate = settledDate(key.Kind, in.Status, in.SettledDate, item.SettledDate)
			return item
		},
		overlay: func(ctx context.Context) error {
			return s.store.UpsertStatusOverride(ctx, domain.StatusOverride{
				ItemKey:     key,
				Status:      in.Status,
				SettledDate: settledDate(key.Kind, in.Status, in.SettledDate, ""),
				UpdatedAt:   s.now().UTC(),
			})
		},
	})
}

// settledDate keeps the settlement date consistent with the status: open
// items carry none, settled items keep the supplied or existing date.
func settledDate(kind domain.Kind, status domain.Status, supplied, existing string) string {
	if status == domain.OpenStatus(kind) {
		return ""
	}
	if supplied != "" {
		return supplied
	}
	return existing
}

// EditInput changes name, amount or category. Nil fields are left unchanged.
type EditInput struct {
	Key         domain.ItemKey
	NewName     *string
	NewAmount   *decimal.Decimal
	NewCategory *string
}

// EditItem applies the supplied fields to the durable matches of the key, or
// records an edit override carrying only those fields.
func (s *Service) EditItem(ctx context.Context, in EditInput) (Mutation, error) {
	key, err := validateKey(in.Key)
	if err != nil {
		return Mutation{}, err
	}
	if in.NewName == nil && in.NewAmount == nil && in.NewCategory == nil {
		return Mutation{}, invalid("edit", "at least one of new_name, new_amount, new_category is required")
	}
	if in.NewName != nil {
		trimmed := strings.TrimSpace(*in.NewName)
		if trimmed == "" {
			return Mutation{}, invalid("new_name", "must not be empty")
		}
		in.NewName = &trimmed
	}
	if in.NewAmount != nil && in.NewAmount.IsNegative() {
		return Mutation{}, invalid("new_amount", "must not be negative")
	}

	return s.resolveOrOverlay(ctx, key, overlayRule{
		mutate: func(item domain.Item) domain.Item {
			if in.NewName != nil {
				item.Name = *in.NewName
			}
			if in.NewAmount != nil {
				item.Amount = *in.NewAmount
			}
			if in.NewCategory != nil {
				item.Category = *in.NewCategory
			}
			return item
		},
		overlay: func(ctx context.Context) error {
			return s.store.UpsertEditOverride(ctx, domain.EditOverride{
				ItemKey:     key,
				NewName:     in.NewName,
				NewAmount:   in.NewAmount,
				NewCategory: in.NewCategory,
				UpdatedAt:   s.now().UTC(),
			})
		},
	})
}

// DeleteItem removes the durable matches of the key. A deletion marker is
// written when nothing durable matched or a baseline item shares the key.
func (s *Service) DeleteItem(ctx context.Context, key domain.ItemKey) (Mutation, error) {
	key, err := validateKey(key)
	if err != nil {
		return Mutation{}, err
	}
	return s.resolveOrOverlay(ctx, key, overlayRule{
		remove: true,
		overlay: func(ctx context.Context) error {
			return s.store.UpsertDeletionMarker(ctx, domain.DeletionMarker{
				ItemKey:   key,
				DeletedAt: s.now().UTC(),
			})
		},
		shadowsBaseline: true,
	})
}

func validateKey(key domain.ItemKey) (domain.ItemKey, error) {
	if !domain.ValidPeriod(key.Period) {
		return domain.ItemKey{}, invalid("period", "expected YYYY-MM")
	}
	if !key.Kind.Valid() {
		return domain.ItemKey{}, invalid("kind", "expected expense or income")
	}
	key.Name = strings.TrimSpace(key.Name)
	if key.Name == "" {
		return domain.ItemKey{}, invalid("item_name", "must not be empty")
	}
	return key, nil
}

// parseKind maps the list filter to a store kind. Empty means both kinds.
func parseKind(kind string) (domain.Kind, error) {
	switch kind {
	case "", KindAll:
		return "", nil
	case string(domain.KindExpense), string(domain.KindIncome):
		return domain.Kind(kind), nil
	default:
		return "", invalid("kind", "expected expense, income or all")
	}
}

func parseView(view View) (View, error) {
	switch view {
	case "":
		return ViewRaw, nil
	case ViewRaw, ViewReconciled:
		return view, nil
	default:
		return "", invalid("view", "expected raw or reconciled")
	}
}
