package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
	"stark-agent/internal/ledger"
)

// Ledger is the ledger service the tools operate on.
type Ledger interface {
	CreateItem(ctx context.Context, in ledger.CreateInput) (domain.Item, error)
	CreateBatch(ctx context.Context, entries []ledger.CreateInput) ledger.BatchResult
	UpdateStatus(ctx context.Context, in ledger.StatusInput) (ledger.Mutation, error)
	EditItem(ctx context.Context, in ledger.EditInput) (ledger.Mutation, error)
	DeleteItem(ctx context.Context, key domain.ItemKey) (ledger.Mutation, error)
	List(ctx context.Context, period, kind string, view ledger.View) (ledger.Listing, error)
	FinancialSummary(ctx context.Context, period string, view ledger.View) (ledger.Summary, error)
}

type handler func(ctx context.Context, args map[string]any) domain.ToolResult

// bind adapts a typed handler to the dispatch table. Arguments are decoded
// into T after schema validation.
func bind[T any](fn func(ctx context.Context, args T) domain.ToolResult) handler {
	return func(ctx context.Context, raw map[string]any) domain.ToolResult {
		var args T
		if err := decodeArgs(raw, &args); err != nil {
			return failure(err)
		}
		return fn(ctx, args)
	}
}

// Executor dispatches tool calls from the model to the ledger.
type Executor struct {
	ledger      Ledger
	descriptors map[string]domain.ToolDescriptor
	handlers    map[string]handler
	validator   *validator
}

// NewExecutor builds the dispatch table. It panics when a registered tool has
// no handler or a handler has no descriptor.
func NewExecutor(l Ledger) *Executor {
	if l == nil {
		panic("tools: ledger must not be nil")
	}
	e := &Executor{ledger: l, descriptors: map[string]domain.ToolDescriptor{}}
	e.handlers = map[string]handler{
		CreateItem:       bind(e.createItem),
		CreateItemsBatch: bind(e.createItemsBatch),
		UpdateStatus:     bind(e.updateStatus),
		EditItem:         bind(e.editItem),
		DeleteItem:       bind(e.deleteItem),
		ListItems:        bind(e.listItems),
		FinancialSummary: bind(e.financialSummary),
	}

	descriptors := Descriptors()
	for _, d := range descriptors {
		if _, ok := e.handlers[d.Name]; !ok {
			panic(fmt.Sprintf("tools: no handler for %q", d.Name))
		}
		e.descriptors[d.Name] = d
	}
	for name := range e.handlers {
		if _, ok := e.descriptors[name]; !ok {
			panic(fmt.Sprintf("tools: handler %q has no descriptor", name))
		}
	}
	v, err := newValidator(descriptors)
	if err != nil {
		panic(fmt.Sprintf("tools: %v", err))
	}
	e.validator = v
	return e
}

// Descriptors returns the tools this executor serves.
func (e *Executor) Descriptors() []domain.ToolDescriptor {
	return Descriptors()
}

// Execute validates input against the tool's schema and runs it. Failures are
// reported in the result, never as a Go error.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) domain.ToolResult {
	d, ok := e.descriptors[name]
	if !ok {
		return domain.ToolResult{Error: fmt.Sprintf("ferramenta desconhecida: %s", name)}
	}
	args, err := parseArguments(input)
	if err != nil {
		return failure(err)
	}
	if err := e.validator.validateObject("", d.Schema.Properties, d.Schema.Required, args); err != nil {
		return failure(err)
	}
	return e.handlers[name](ctx, args)
}

func failure(err error) domain.ToolResult {
	return domain.ToolResult{Error: err.Error()}
}

type createArgs struct {
	Period      string          `mapstructure:"period"`
	Name        string          `mapstructure:"name"`
	Amount      decimal.Decimal `mapstructure:"amount"`
	Category    string          `mapstructure:"category"`
	Kind        string          `mapstructure:"kind"`
	Status      string          `mapstructure:"status"`
	DueDate     string          `mapstructure:"due_date"`
	SettledDate string          `mapstructure:"settled_date"`
}

func (a createArgs) input() ledger.CreateInput {
	return ledger.CreateInput{
		Period:      a.Period,
		Name:        a.Name,
		Amount:      a.Amount,
		Category:    a.Category,
		Kind:        domain.Kind(a.Kind),
		Status:      domain.Status(a.Status),
		DueDate:     a.DueDate,
		SettledDate: a.SettledDate,
	}
}

func (e *Executor) createItem(ctx context.Context, args createArgs) domain.ToolResult {
	item, err := e.ledger.CreateItem(ctx, args.input())
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("%s \"%s\" de R$ %s criada em %s", kindLabel(item.Kind), item.Name, item.Amount.StringFixed(2), item.Period),
		Data:    item,
	}
}

type batchArgs struct {
	Items []any `mapstructure:"items"`
}

// createItemsBatch validates and decodes each entry on its own so a bad entry
// only fails itself.
func (e *Executor) createItemsBatch(ctx context.Context, args batchArgs) domain.ToolResult {
	itemSchema := e.descriptors[CreateItem].Schema
	type pending struct {
		index int
		input ledger.CreateInput
	}

	results := make([]ledger.BatchEntryResult, len(args.Items))
	var valid []pending
	for i, el := range args.Items {
		raw, ok := el.(map[string]any)
		if !ok {
			results[i] = ledger.BatchEntryResult{Index: i, Error: argErr(fmt.Sprintf("items[%d]", i), "expected object").Error()}
			continue
		}
		if err := e.validator.validateObject(fmt.Sprintf("items[%d]", i), itemSchema.Properties, itemSchema.Required, raw); err != nil {
			results[i] = ledger.BatchEntryResult{Index: i, Error: err.Error()}
			continue
		}
		var entry createArgs
		if err := decodeArgs(raw, &entry); err != nil {
			results[i] = ledger.BatchEntryResult{Index: i, Error: err.Error()}
			continue
		}
		valid = append(valid, pending{index: i, input: entry.input()})
	}

	inputs := make([]ledger.CreateInput, len(valid))
	for i, p := range valid {
		inputs[i] = p.input
	}
	created := e.ledger.CreateBatch(ctx, inputs)
	for i, r := range created.Results {
		r.Index = valid[i].index
		results[r.Index] = r
	}

	out := ledger.BatchResult{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("%d de %d lançamentos criados", out.Succeeded, out.Total),
		Data:    out,
	}
}

type statusArgs struct {
	Period      string `mapstructure:"period"`
	Kind        string `mapstructure:"kind"`
	ItemName    string `mapstructure:"item_name"`
	Status      string `mapstructure:"status"`
	SettledDate string `mapstructure:"settled_date"`
}

func (e *Executor) updateStatus(ctx context.Context, args statusArgs) domain.ToolResult {
	m, err := e.ledger.UpdateStatus(ctx, ledger.StatusInput{
		Key:         domain.ItemKey{Period: args.Period, Kind: domain.Kind(args.Kind), Name: args.ItemName},
		Status:      domain.Status(args.Status),
		SettledDate: args.SettledDate,
	})
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Status de \"%s\" atualizado para %s", args.ItemName, args.Status),
		Data:    m,
	}
}

type editArgs struct {
	Period      string           `mapstructure:"period"`
	Kind        string           `mapstructure:"kind"`
	ItemName    string           `mapstructure:"item_name"`
	NewName     *string          `mapstructure:"new_name"`
	NewAmount   *decimal.Decimal `mapstructure:"new_amount"`
	NewCategory *string          `mapstructure:"new_category"`
}

func (e *Executor) editItem(ctx context.Context, args editArgs) domain.ToolResult {
	m, err := e.ledger.EditItem(ctx, ledger.EditInput{
		Key:         domain.ItemKey{Period: args.Period, Kind: domain.Kind(args.Kind), Name: args.ItemName},
		NewName:     args.NewName,
		NewAmount:   args.NewAmount,
		NewCategory: args.NewCategory,
	})
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("\"%s\" atualizado", args.ItemName),
		Data:    m,
	}
}

type keyArgs struct {
	Period   string `mapstructure:"period"`
	Kind     string `mapstructure:"kind"`
	ItemName string `mapstructure:"item_name"`
}

func (e *Executor) deleteItem(ctx context.Context, args keyArgs) domain.ToolResult {
	m, err := e.ledger.DeleteItem(ctx, domain.ItemKey{Period: args.Period, Kind: domain.Kind(args.Kind), Name: args.ItemName})
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{
		Success: true,
		Message: fmt.Sprintf("\"%s\" removido de %s", args.ItemName, args.Period),
		Data:    m,
	}
}

type listArgs struct {
	Period string `mapstructure:"period"`
	Kind   string `mapstructure:"kind"`
	View   string `mapstructure:"view"`
}

func (e *Executor) listItems(ctx context.Context, args listArgs) domain.ToolResult {
	listing, err := e.ledger.List(ctx, args.Period, args.Kind, ledger.View(args.View))
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{Success: true, Data: listing}
}

type summaryArgs struct {
	Period string `mapstructure:"period"`
	View   string `mapstructure:"view"`
}

func (e *Executor) financialSummary(ctx context.Context, args summaryArgs) domain.ToolResult {
	summary, err := e.ledger.FinancialSummary(ctx, args.Period, ledger.View(args.View))
	if err != nil {
		return failure(err)
	}
	return domain.ToolResult{Success: true, Data: summary}
}

func kindLabel(k domain.Kind) string {
	if k == domain.KindIncome {
		return "Receita"
	}
	return "Despesa"
}
