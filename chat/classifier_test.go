package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/falabr/ouvidoria-agent/chat"
	"github.com/falabr/ouvidoria-agent/llm"
)

// scriptedLLM returns canned outputs in order; an empty string slot means the
// call fails.
type scriptedLLM struct {
	outputs []string
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages provided")
	}
	if s.calls >= len(s.outputs) {
		return "", errors.New("no scripted output left")
	}
	out := s.outputs[s.calls]
	s.calls++
	if out == "" {
		return "", errors.New("backend unreachable")
	}
	return out, nil
}

var _ llm.Client = (*scriptedLLM)(nil)

const demandJSON = `{"tipo":"DEMANDA","intent":"reclamacao","entidades":{"orgao":"Secretaria de Saúde"},"confidence":0.85,"resumo":"Ausência de resposta do posto de saúde há três meses."}`

func TestClassifyParsesStrictJSON(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{demandJSON}})

	cls, err := c.Classify(context.Background(), "Não recebo resposta do posto de saúde há 3 meses", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tipo != chat.KindDemanda {
		t.Errorf("Tipo = %q", cls.Tipo)
	}
	if cls.Intent != "reclamacao" {
		t.Errorf("Intent = %q", cls.Intent)
	}
	if cls.Entidades["orgao"] != "Secretaria de Saúde" {
		t.Errorf("orgao = %q", cls.Entidades["orgao"])
	}
	if cls.Confidence != 0.85 {
		t.Errorf("Confidence = %v", cls.Confidence)
	}
}

func TestClassifyParsesChatReply(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{chatJSON}})

	cls, err := c.Classify(context.Background(), "Olá, tudo bem?", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tipo != chat.KindChat {
		t.Errorf("Tipo = %q", cls.Tipo)
	}
	if cls.Resposta == "" {
		t.Error("resposta_chat was not parsed from the classifier output")
	}
}

func TestClassifyToleratesFencedOutput(t *testing.T) {
	fenced := "```json\n" + demandJSON + "\n```"
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{fenced}})

	cls, err := c.Classify(context.Background(), "mensagem", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tipo != chat.KindDemanda {
		t.Errorf("Tipo = %q", cls.Tipo)
	}
}

func TestClassifyNormalizesLowercaseTipo(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{
		`{"tipo":"chat","intent":"saudacao","entidades":{},"confidence":0.9,"resumo":""}`,
	}})

	cls, err := c.Classify(context.Background(), "Olá!", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tipo != chat.KindChat {
		t.Errorf("Tipo = %q, want normalized CHAT", cls.Tipo)
	}
}

func TestClassifyRetriesOnMalformedOutput(t *testing.T) {
	stub := &scriptedLLM{outputs: []string{"Claro! Aqui está a análise...", demandJSON}}
	c := chat.NewClassifier(stub)

	cls, err := c.Classify(context.Background(), "mensagem", nil)
	if err != nil {
		t.Fatalf("Classify after retry: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("calls = %d, want 2", stub.calls)
	}
	if cls.Tipo != chat.KindDemanda {
		t.Errorf("Tipo = %q", cls.Tipo)
	}
}

func TestClassifyFailsAfterSecondMalformedOutput(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{"prosa", "mais prosa"}})

	_, err := c.Classify(context.Background(), "mensagem", nil)
	if !errors.Is(err, chat.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestClassifyRejectsUnknownTipo(t *testing.T) {
	bad := `{"tipo":"TALVEZ","intent":"","entidades":{},"confidence":0.5,"resumo":""}`
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{bad, bad}})

	if _, err := c.Classify(context.Background(), "mensagem", nil); !errors.Is(err, chat.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestClassifyRejectsOutOfRangeConfidence(t *testing.T) {
	bad := `{"tipo":"CHAT","intent":"","entidades":{},"confidence":1.7,"resumo":""}`
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{bad, bad}})

	if _, err := c.Classify(context.Background(), "mensagem", nil); !errors.Is(err, chat.ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestClassifyProviderUnavailable(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{"", ""}})

	if _, err := c.Classify(context.Background(), "mensagem", nil); !errors.Is(err, chat.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestClassifyRecoversFromSingleProviderFailure(t *testing.T) {
	c := chat.NewClassifier(&scriptedLLM{outputs: []string{"", demandJSON}})

	cls, err := c.Classify(context.Background(), "mensagem", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Tipo != chat.KindDemanda {
		t.Errorf("Tipo = %q", cls.Tipo)
	}
}
