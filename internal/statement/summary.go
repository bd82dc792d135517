// Package statement turns an imported bank statement into the text block the
// model reads. Every entry is listed; nothing is summarized away.
package statement

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

const divider = "═══════════════════════════════════════════════════════════════"

var recipientPattern = regexp.MustCompile(`(?i)para (.+)$`)

type group struct {
	name    string
	total   decimal.Decimal
	entries []domain.ImportedEntry
}

// Summarize renders the imported file. The output is deterministic for a
// given input.
func Summarize(file domain.ImportedFile) string {
	var incomes, expenses, unknown []domain.ImportedEntry
	for _, e := range file.Items {
		switch strings.ToLower(strings.TrimSpace(e.Tipo)) {
		case domain.EntryIncome:
			incomes = append(incomes, e)
		case domain.EntryExpense:
			expenses = append(expenses, e)
		default:
			unknown = append(unknown, e)
		}
	}

	receitas, despesas := file.Receitas, file.Despesas
	if receitas.IsZero() && despesas.IsZero() {
		receitas, despesas = sum(incomes), sum(expenses)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n📎 ARQUIVO: %s\n%s\n\n", divider, file.Filename, divider)
	b.WriteString("📊 RESUMO GERAL\n")
	fmt.Fprintf(&b, "• Receitas: %s (%d entradas)\n", money(receitas), len(incomes))
	fmt.Fprintf(&b, "• Despesas: %s (%d saídas)\n", money(despesas), len(expenses))
	fmt.Fprintf(&b, "• Saldo: %s\n", money(receitas.Sub(despesas)))

	sortByValue(incomes)
	fmt.Fprintf(&b, "\n%s\n🟢 TODAS AS RECEITAS (%d)\n%s\n", divider, len(incomes), divider)
	for i, e := range incomes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line(e))
	}

	categories, transfers := groupExpenses(expenses)
	fmt.Fprintf(&b, "\n%s\n🔴 DESPESAS POR CATEGORIA\n%s\n", divider, divider)
	for _, g := range categories {
		fmt.Fprintf(&b, "\n📁 %s: %s (%d transações)\n", strings.ToUpper(g.name), money(g.total), len(g.entries))
		for _, e := range g.entries {
			fmt.Fprintf(&b, "   • %s\n", line(e))
		}
	}

	fmt.Fprintf(&b, "\n%s\n💳 TRANSFERÊNCIAS/PAGAMENTOS POR DESTINATÁRIO\n%s\n", divider, divider)
	for _, g := range transfers {
		fmt.Fprintf(&b, "\n👤 %s: %s (%d pagamentos)\n", g.name, money(g.total), len(g.entries))
		for _, e := range g.entries {
			fmt.Fprintf(&b, "   • %s\n", line(e))
		}
	}

	if len(unknown) > 0 {
		fmt.Fprintf(&b, "\n%s\n⚪ LANÇAMENTOS SEM TIPO (%d)\n%s\n", divider, len(unknown), divider)
		for i, e := range unknown {
			fmt.Fprintf(&b, "%d. %s\n", i+1, line(e))
		}
	}
	return b.String()
}

// groupExpenses splits expenses into categories and, for transfers, into
// recipients. Both are ordered by total, largest first.
func groupExpenses(expenses []domain.ImportedEntry) (categories, transfers []group) {
	byCategory := map[string]*group{}
	byRecipient := map[string]*group{}
	for _, e := range expenses {
		cat := Categorize(e.Descricao)
		if cat == CategoryTransfers {
			add(byRecipient, Recipient(e.Descricao), e)
			continue
		}
		add(byCategory, cat, e)
	}
	return ordered(byCategory), ordered(byRecipient)
}

// Recipient extracts the name after "para" in a transfer description.
func Recipient(description string) string {
	m := recipientPattern.FindStringSubmatch(description)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "Outros"
	}
	return strings.TrimSpace(m[1])
}

func add(groups map[string]*group, name string, e domain.ImportedEntry) {
	g, ok := groups[name]
	if !ok {
		g = &group{name: name}
		groups[name] = g
	}
	g.total = g.total.Add(e.Valor)
	g.entries = append(g.entries, e)
}

func ordered(groups map[string]*group) []group {
	out := make([]group, 0, len(groups))
	for _, g := range groups {
		sortByValue(g.entries)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].total.Cmp(out[j].total); c != 0 {
			return c > 0
		}
		return out[i].name < out[j].name
	})
	return out
}

func sortByValue(entries []domain.ImportedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Valor.GreaterThan(entries[j].Valor)
	})
}

func sum(entries []domain.ImportedEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Valor)
	}
	return total
}

func line(e domain.ImportedEntry) string {
	date := e.Data
	if strings.TrimSpace(date) == "" {
		date = "S/D"
	}
	desc := e.Descricao
	if strings.TrimSpace(desc) == "" {
		desc = "N/A"
	}
	return fmt.Sprintf("%s | %s | %s", date, desc, money(e.Valor))
}

func money(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}
