package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/falabr/ouvidoria-agent/llm"
)

// Classifier decides per turn whether a message is conversational or an
// actionable demand, and extracts intent, entities, and a confidence score.
type Classifier struct {
	llm llm.Client
}

func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{llm: client}
}

const classifierSystemPrompt = `Você é o classificador do assistente da Ouvidoria (Fala.BR).
Analise a ÚLTIMA mensagem do cidadão considerando o histórico.

REGRAS DE DECISÃO:
1. Saudação, agradecimento ou dúvida sobre como usar o sistema: tipo "CHAT".
2. Relato de problema, pedido, denúncia ou sugestão dirigido a um órgão público: tipo "DEMANDA".

Responda APENAS com JSON estrito, sem texto ao redor, neste formato:
{"tipo":"CHAT" ou "DEMANDA","intent":"saudacao|duvida|solicitacao|reclamacao|denuncia|sugestao","entidades":{"orgao":"nome do órgão responsável ou vazio"},"confidence":0.0 a 1.0,"resumo":"reescrita técnica da demanda, ou vazio se CHAT","resposta_chat":"resposta cordial e breve ao cidadão se CHAT, ou vazio se DEMANDA"}`

const classifierRetryPrompt = `A resposta anterior não era JSON válido.
Responda SOMENTE com o objeto JSON pedido, começando com { e terminando com }. Nenhuma outra palavra.`

// Classify runs the classification call with one stricter retry on malformed
// output. On a provider failure after retry it returns ErrProviderUnavailable;
// on persistent malformed output it returns ErrMalformedOutput. In both cases
// the zero-value classification degrades the turn to CHAT upstream.
func (c *Classifier) Classify(ctx context.Context, userText string, history []Turn) (Classification, error) {
	messages := c.buildMessages(userText, history, "")

	raw, err := c.llm.Generate(ctx, messages)
	if err != nil {
		raw, err = c.llm.Generate(ctx, messages)
		if err != nil {
			return Classification{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}

	cls, parseErr := parseClassification(raw)
	if parseErr == nil {
		return cls, nil
	}

	retry := c.buildMessages(userText, history, classifierRetryPrompt)
	raw, err = c.llm.Generate(ctx, retry)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	cls, parseErr = parseClassification(raw)
	if parseErr != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformedOutput, parseErr)
	}
	return cls, nil
}

func (c *Classifier) buildMessages(userText string, history []Turn, retryNote string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: classifierSystemPrompt})
	for _, turn := range recentTurns(history, 6) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	if retryNote != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: retryNote})
	}
	return messages
}

// parseClassification accepts the strict JSON contract, tolerating only code
// fences and surrounding prose around a single object.
func parseClassification(raw string) (Classification, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in output")
	}

	var cls Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &cls); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}

	cls.Tipo = strings.ToUpper(strings.TrimSpace(cls.Tipo))
	if cls.Tipo != KindChat && cls.Tipo != KindDemanda {
		return Classification{}, fmt.Errorf("unknown tipo %q", cls.Tipo)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %v out of range", cls.Confidence)
	}
	if cls.Entidades == nil {
		cls.Entidades = map[string]string{}
	}
	return cls, nil
}

// demandTipo maps an intent label onto the form's demand type vocabulary.
func demandTipo(intent string) string {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case "reclamacao", "reclamação":
		return TipoReclamacao
	case "denuncia", "denúncia":
		return TipoDenuncia
	case "sugestao", "sugestão":
		return TipoSugestao
	default:
		return TipoSolicitacao
	}
}

func recentTurns(history []Turn, n int) []Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
