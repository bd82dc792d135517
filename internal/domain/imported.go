package domain

import "github.com/shopspring/decimal"

// Entry kinds used by imported statements.
const (
	EntryIncome  = "receita"
	EntryExpense = "despesa"
)

// ImportedFile is a statement parsed by the caller. It lives for one request.
type ImportedFile struct {
	Filename string          `json:"filename"`
	Items    []ImportedEntry `json:"items"`
	Receitas decimal.Decimal `json:"receitas"`
	Despesas decimal.Decimal `json:"despesas"`
}

// ImportedEntry is one statement line.
type ImportedEntry struct {
	Tipo      string          `json:"tipo"`
	Data      string          `json:"data"`
	Descricao string          `json:"descricao"`
	Valor     decimal.Decimal `json:"valor"`
}
