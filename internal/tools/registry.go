package tools

import "stark-agent/internal/domain"

// Tool names exposed to the model.
const (
	CreateItem       = "create_item"
	CreateItemsBatch = "create_items_batch"
	UpdateStatus     = "update_status"
	EditItem         = "edit_item"
	DeleteItem       = "delete_item"
	ListItems        = "list_items"
	FinancialSummary = "financial_summary"
)

const periodPattern = `^\d{4}-(0[1-9]|1[0-2])$`

func periodProp() domain.Property {
	return domain.Property{
		Type:        "string",
		Description: "Período no formato YYYY-MM (ex: 2025-12)",
		Pattern:     periodPattern,
	}
}

func kindProp() domain.Property {
	return domain.Property{
		Type:        "string",
		Description: "expense para despesas, income para receitas",
		Enum:        []string{"expense", "income"},
	}
}

func viewProp() domain.Property {
	return domain.Property{
		Type:        "string",
		Description: "raw lista só os lançamentos gravados; reconciled inclui a base consolidada com ajustes aplicados. Padrão: raw",
		Enum:        []string{"raw", "reconciled"},
	}
}

func itemNameProp() domain.Property {
	return domain.Property{Type: "string", Description: "Nome exato do lançamento"}
}

func createItemSchema() domain.Schema {
	return domain.Schema{
		Properties: map[string]domain.Property{
			"period":       periodProp(),
			"name":         {Type: "string", Description: "Nome ou descrição do lançamento"},
			"amount":       {Type: "number", Description: "Valor em reais, sempre positivo"},
			"category":     {Type: "string", Description: "Categoria (ex: Combustível, Alimentação, Taxas Bancárias)"},
			"kind":         kindProp(),
			"status":       {Type: "string", Description: "Payable/Paid para despesas, Receivable/Received para receitas", Enum: []string{"Payable", "Paid", "Receivable", "Received"}},
			"due_date":     {Type: "string", Description: "Vencimento (YYYY-MM-DD)"},
			"settled_date": {Type: "string", Description: "Data de pagamento ou recebimento (YYYY-MM-DD)"},
		},
		Required: []string{"period", "name", "amount", "category", "kind"},
	}
}

var registry = []domain.ToolDescriptor{
	{
		Name:        CreateItem,
		Description: "Cria um lançamento (despesa ou receita) no período. Use para um único item; para vários use create_items_batch.",
		Schema:      createItemSchema(),
	},
	{
		Name:        CreateItemsBatch,
		Description: "Cria vários lançamentos de uma vez, por exemplo todas as linhas de um extrato importado. Cada item é processado de forma independente.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"items": {
					Type:        "array",
					Description: "Lista de lançamentos com os mesmos campos de create_item",
					Items: &domain.Property{
						Type:       "object",
						Properties: createItemSchema().Properties,
						Required:   createItemSchema().Required,
					},
				},
			},
			Required: []string{"items"},
		},
	},
	{
		Name:        UpdateStatus,
		Description: "Marca um lançamento como pago/recebido ou em aberto.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"period":       periodProp(),
				"kind":         kindProp(),
				"item_name":    itemNameProp(),
				"status":       {Type: "string", Description: "Payable/Paid para despesas, Receivable/Received para receitas", Enum: []string{"Payable", "Paid", "Receivable", "Received"}},
				"settled_date": {Type: "string", Description: "Data de pagamento ou recebimento (YYYY-MM-DD)"},
			},
			Required: []string{"period", "kind", "item_name", "status"},
		},
	},
	{
		Name:        EditItem,
		Description: "Altera nome, valor ou categoria de um lançamento. Informe apenas os campos que mudam.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"period":       periodProp(),
				"kind":         kindProp(),
				"item_name":    itemNameProp(),
				"new_name":     {Type: "string", Description: "Novo nome"},
				"new_amount":   {Type: "number", Description: "Novo valor em reais"},
				"new_category": {Type: "string", Description: "Nova categoria"},
			},
			Required: []string{"period", "kind", "item_name"},
		},
	},
	{
		Name:        DeleteItem,
		Description: "Remove um lançamento do período.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"period":    periodProp(),
				"kind":      kindProp(),
				"item_name": itemNameProp(),
			},
			Required: []string{"period", "kind", "item_name"},
		},
	},
	{
		Name:        ListItems,
		Description: "Lista os lançamentos do período com totais de receitas, despesas e saldo.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"period": periodProp(),
				"kind": {
					Type:        "string",
					Description: "Filtra por tipo. Padrão: all",
					Enum:        []string{"expense", "income", "all"},
				},
				"view": viewProp(),
			},
			Required: []string{"period"},
		},
	},
	{
		Name:        FinancialSummary,
		Description: "Resumo financeiro do período: receitas, despesas, saldo, margem e totais por categoria.",
		Schema: domain.Schema{
			Properties: map[string]domain.Property{
				"period": periodProp(),
				"view":   viewProp(),
			},
			Required: []string{"period"},
		},
	},
}

// Descriptors returns the tool descriptors in their fixed order.
func Descriptors() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, len(registry))
	copy(out, registry)
	return out
}
