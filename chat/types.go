// Package chat runs the query-time path: per-turn classification into CHAT or
// DEMANDA, context retrieval, answer composition, and the confidence-gated
// fallback protocol.
package chat

import (
	"time"

	"github.com/falabr/ouvidoria-agent/knowledge"
)

// Kind values of a classified user turn.
const (
	KindChat    = "CHAT"
	KindDemanda = "DEMANDA"
)

// Turn roles, matching the providers' wire values so history can be forwarded
// to a model without translation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Demand type labels suggested to the submission form.
const (
	TipoSolicitacao = "Solicitação"
	TipoReclamacao  = "Reclamação"
	TipoDenuncia    = "Denúncia"
	TipoSugestao    = "Sugestão"
)

// Classification is produced fresh for every user turn; it is never cached
// across turns because intent can change utterance to utterance.
type Classification struct {
	Tipo       string            `json:"tipo"`
	Intent     string            `json:"intent"`
	Entidades  map[string]string `json:"entidades"`
	Confidence float64           `json:"confidence"`
	Resumo     string            `json:"resumo"`
	// Resposta carries the model's short conversational reply for CHAT
	// turns, so analysis-only callers still have user-facing text.
	Resposta string `json:"resposta_chat"`
}

// Suggestion is the structured demand proposal handed to the form layer. The
// citizen keeps final edit authority over every field; nothing is submitted
// automatically.
type Suggestion struct {
	Tipo   string `json:"tipo"`
	Orgao  string `json:"orgao"`
	Resumo string `json:"resumo"`
}

// Source cites one knowledge-base section backing an answer.
type Source struct {
	Document   string
	Breadcrumb string
	Snippet    string
	Score      float64
	Insight    knowledge.Insight
}

// Reply kinds: a direct answer, a demand suggestion, one clarifying question
// (soft fallback), or an explicit decline (hard fallback).
const (
	ReplyAnswer     = "answer"
	ReplySuggestion = "suggestion"
	ReplyClarify    = "clarify"
	ReplyDecline    = "decline"
)

type Reply struct {
	Kind           string
	Message        string
	Sources        []Source
	Suggestion     *Suggestion
	Classification Classification
	Confidence     float64
}

// Turn is one utterance in a conversation session.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

// Retrieved is one chunk returned by the retriever, already above the
// relevance floor.
type Retrieved struct {
	Document   string
	Breadcrumb string
	Text       string
	Score      float64
}
