package usecase

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stark-agent/internal/domain"
)

func TestBuildSystemPrompt(t *testing.T) {
	base := buildSystemPrompt("", false)
	require.Contains(t, base, "STARK")
	require.Contains(t, base, "DADOS DO ARQUIVO IMPORTADO")
	require.NotContains(t, base, "## FERRAMENTAS")
	require.NotContains(t, base, "## INSTRUÇÕES ADICIONAIS")

	withTools := buildSystemPrompt("  Seja breve.  ", true)
	require.Contains(t, withTools, "## FERRAMENTAS")
	require.Contains(t, withTools, "create_items_batch")
	require.Contains(t, withTools, "## INSTRUÇÕES ADICIONAIS\nSeja breve.")
}

func TestWindowHistory(t *testing.T) {
	assistant := func(text string) domain.Turn {
		return domain.Turn{Role: domain.RoleAssistant, Content: []domain.Block{domain.TextBlock(text)}}
	}

	tests := []struct {
		name    string
		history []domain.Turn
		window  int
		want    []string
	}{
		{"empty", nil, 6, []string{}},
		{"within window", []domain.Turn{domain.UserText("u1"), assistant("a1")}, 6, []string{"u1", "a1"}},
		{"leading assistant dropped", []domain.Turn{assistant("a0"), domain.UserText("u1")}, 6, []string{"u1"}},
		{"trailing window", []domain.Turn{
			domain.UserText("u1"), assistant("a1"), domain.UserText("u2"), assistant("a2"),
		}, 2, []string{"u2", "a2"}},
		{"unknown roles skipped", []domain.Turn{
			domain.UserText("u1"), {Role: "system", Content: []domain.Block{domain.TextBlock("s")}}, assistant("a1"),
		}, 6, []string{"u1", "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := windowHistory(tt.history, tt.window)
			texts := make([]string, 0, len(got))
			for _, turn := range got {
				texts = append(texts, turn.Text())
			}
			require.Equal(t, tt.want, texts)
		})
	}
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "oi", userMessage("oi", nil))
	require.Equal(t, "analise", userMessage("analise", &domain.ImportedFile{Filename: "vazio.csv"}))

	totalsOnly := &domain.ImportedFile{Filename: "totais.csv", Receitas: decimal.NewFromInt(100)}
	msg := userMessage("analise", totalsOnly)
	require.Contains(t, msg, "analise"+importedFileMarker)
	require.Contains(t, msg, "totais.csv")

	withItems := &domain.ImportedFile{Filename: "extrato.csv", Items: []domain.ImportedEntry{
		{Tipo: domain.EntryExpense, Data: "02/12", Descricao: "Posto", Valor: decimal.NewFromInt(20)},
	}}
	msg = userMessage("analise", withItems)
	require.Contains(t, msg, "extrato.csv")
	require.Contains(t, msg, "02/12 | Posto | R$ 20.00")
}
