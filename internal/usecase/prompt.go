package usecase

import (
	"strings"

	"stark-agent/internal/domain"
	"stark-agent/internal/statement"
)

const importedFileMarker = "\n\n---\nDADOS DO ARQUIVO IMPORTADO:"

// buildSystemPrompt assembles the system instructions. They are fixed for
// the whole conversation, including every tool iteration.
func buildSystemPrompt(persona string, toolsEnabled bool) string {
	sections := []string{
		"Você é o STARK, o CFO Virtual da Starken Tecnologia.",
		"",
		"## SUA PERSONALIDADE",
		"Fale de forma direta, prática, sem enrolação. Tom informal mas profissional.",
		"",
		"## QUANDO ANALISAR ARQUIVOS IMPORTADOS",
		importedFileRules(),
	}
	if toolsEnabled {
		sections = append(sections, "", "## FERRAMENTAS", toolRules())
	}
	if p := strings.TrimSpace(persona); p != "" {
		sections = append(sections, "", "## INSTRUÇÕES ADICIONAIS", p)
	}
	return strings.Join(sections, "\n")
}

func importedFileRules() string {
	return strings.Join([]string{
		"Quando a mensagem trouxer DADOS DO ARQUIVO IMPORTADO:",
		"1. Use APENAS os dados do arquivo; ignore os dados internos do sistema",
		"2. NÃO faça \"Top 5\" ou \"Top 10\": liste TODAS as transações",
		"3. Organize por CATEGORIA e DESTINATÁRIO",
		"4. Inclua DATA e VALOR de cada transação",
		"5. Seja DETALHADO e COMPLETO",
	}, "\n")
}

func toolRules() string {
	return strings.Join([]string{
		"Você pode consultar e alterar o controle financeiro com as ferramentas disponíveis.",
		"- Períodos sempre no formato YYYY-MM",
		"- Para registrar várias linhas de um extrato use create_items_batch",
		"- Confirme ao usuário o que foi criado, alterado ou removido",
		"- Se uma ferramenta retornar success=false, explique o erro e não invente valores",
	}, "\n")
}

// windowHistory keeps the trailing window of prior turns. Leading assistant
// turns are dropped so the conversation starts with the user.
func windowHistory(history []domain.Turn, window int) []domain.Turn {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	start := 0
	for start < len(history) && history[start].Role != domain.RoleUser {
		start++
	}
	out := make([]domain.Turn, 0, len(history)-start)
	for _, t := range history[start:] {
		if t.Role != domain.RoleUser && t.Role != domain.RoleAssistant {
			continue
		}
		out = append(out, t)
	}
	return out
}

// userMessage appends the imported file summary to the user's text. A file
// without entries or totals adds nothing.
func userMessage(message string, file *domain.ImportedFile) string {
	if file == nil || (len(file.Items) == 0 && file.Receitas.IsZero() && file.Despesas.IsZero()) {
		return message
	}
	return message + importedFileMarker + statement.Summarize(*file)
}

func buildMessages(history []domain.Turn, window int, message string, file *domain.ImportedFile) []domain.Turn {
	msgs := windowHistory(history, window)
	return append(msgs, domain.UserText(userMessage(message, file)))
}
