package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/falabr/ouvidoria-agent/knowledge"
)

// Options tune the query path. Zero values fall back to the defaults below.
type Options struct {
	TopK                int
	ConfidenceThreshold float64
	RelevanceFloor      float64
}

const defaultTopK = 5

const (
	clarifyMessage = "Não tenho certeza de que entendi sua dúvida. Pode reformular ou dar mais detalhes sobre o que você precisa?"
	declineMessage = "Não encontrei informações confiáveis na base de conhecimento para responder a essa pergunta. Você pode registrar sua manifestação diretamente no formulário do Fala.BR, ou falar com um atendente da Ouvidoria."
)

// Service drives one conversation turn end to end: classify, route, retrieve,
// compose, gate on confidence. It is safe for concurrent use; turns within a
// session serialize on the session lock, distinct sessions run in parallel.
type Service struct {
	classifier *Classifier
	retriever  *Retriever
	composer   *Composer
	graph      knowledge.Graph
	sessions   *Sessions
	logger     *log.Logger
	opts       Options
}

// NewService wires the query path. graph may be nil, in which case cited
// sources carry no document insights.
func NewService(classifier *Classifier, retriever *Retriever, composer *Composer, graph knowledge.Graph, logger *log.Logger, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &Service{
		classifier: classifier,
		retriever:  retriever,
		composer:   composer,
		graph:      graph,
		sessions:   NewSessions(),
		logger:     logger,
		opts:       opts,
	}
}

// HandleTurn processes one user message in the named session and returns the
// assistant reply. The session lock is held for the entire turn so a session's
// turns are handled strictly in arrival order.
//
// Only the classification verdict and scores are logged, never message text.
func (s *Service) HandleTurn(ctx context.Context, sessionID, userText string) (Reply, error) {
	session := s.sessions.Get(sessionID)
	session.mu.Lock()
	defer session.mu.Unlock()

	history := session.history()
	session.append(RoleUser, userText)

	cls, err := s.classifier.Classify(ctx, userText, history)
	if err != nil {
		// Classification is advisory: a dead provider or unparseable
		// output degrades the turn to CHAT instead of failing it.
		if !errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrMalformedOutput) {
			return Reply{}, err
		}
		s.logger.Printf("chat: classification degraded session=%s err=%v", sessionID, err)
		cls = Classification{Tipo: KindChat, Entidades: map[string]string{}}
	}

	s.logger.Printf("chat: turn session=%s tipo=%s intent=%s cls_confidence=%.2f", sessionID, cls.Tipo, cls.Intent, cls.Confidence)

	var reply Reply
	if cls.Tipo == KindDemanda {
		reply = s.demandReply(cls)
	} else {
		reply, err = s.chatReply(ctx, session, userText, history, cls)
		if err != nil {
			return Reply{}, err
		}
	}

	reply.Classification = cls
	session.append(RoleAssistant, reply.Message)
	return reply, nil
}

// Analyze classifies a message without answering it, for callers that only
// want the demand suggestion (form pre-fill). It does not touch any session.
func (s *Service) Analyze(ctx context.Context, userText string) (Classification, *Suggestion, error) {
	cls, err := s.classifier.Classify(ctx, userText, nil)
	if err != nil {
		return Classification{}, nil, err
	}
	if cls.Tipo != KindDemanda {
		return cls, nil, nil
	}
	return cls, &Suggestion{
		Tipo:   demandTipo(cls.Intent),
		Orgao:  cls.Entidades["orgao"],
		Resumo: cls.Resumo,
	}, nil
}

// demandReply turns a DEMANDA classification into a structured suggestion for
// the submission form. The citizen edits and confirms; nothing is filed here.
func (s *Service) demandReply(cls Classification) Reply {
	suggestion := &Suggestion{
		Tipo:   demandTipo(cls.Intent),
		Orgao:  cls.Entidades["orgao"],
		Resumo: cls.Resumo,
	}

	message := fmt.Sprintf("Identifiquei uma possível %s", suggestion.Tipo)
	if suggestion.Orgao != "" {
		message += " dirigida a " + suggestion.Orgao
	}
	message += ". Preparei uma sugestão de registro; revise os campos e confirme antes de enviar."

	return Reply{
		Kind:       ReplySuggestion,
		Message:    message,
		Suggestion: suggestion,
		Confidence: cls.Confidence,
	}
}

// chatReply answers a conversational turn from the knowledge base, or walks
// the fallback ladder when retrieval or confidence fails. An answer is given
// only when the blended confidence is strictly above the threshold.
func (s *Service) chatReply(ctx context.Context, session *Session, userText string, history []Turn, cls Classification) (Reply, error) {
	contexts, err := s.retriever.Retrieve(ctx, userText, s.opts.TopK, history)
	if err != nil {
		// A dead embedding provider degrades to the fallback ladder; the
		// citizen never sees a transport error.
		if errors.Is(err, ErrProviderUnavailable) {
			s.logger.Printf("chat: retrieval unavailable err=%v", err)
			return s.fallbackReply(session), nil
		}
		return Reply{}, fmt.Errorf("retrieve context: %w", err)
	}

	if len(contexts) == 0 {
		s.logger.Printf("chat: %v (floor=%.2f)", ErrNoRelevantContext, s.opts.RelevanceFloor)
		return s.fallbackReply(session), nil
	}

	confidence := blendConfidence(contexts[0].Score, cls.Confidence)
	if confidence <= s.opts.ConfidenceThreshold {
		s.logger.Printf("chat: below threshold confidence=%.2f threshold=%.2f", confidence, s.opts.ConfidenceThreshold)
		return s.fallbackReply(session), nil
	}

	answer, err := s.composer.Compose(ctx, userText, history, contexts)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			s.logger.Printf("chat: composer unavailable err=%v", err)
			return s.fallbackReply(session), nil
		}
		return Reply{}, err
	}

	session.fallback = fallbackNone
	return Reply{
		Kind:       ReplyAnswer,
		Message:    answer,
		Sources:    s.sources(ctx, contexts),
		Confidence: confidence,
	}, nil
}

// fallbackReply advances the ladder: first a clarifying question, then an
// explicit decline pointing to the manual channels. A declined session is
// treated as having moved on to a new subject, so the next unanswerable turn
// gets a fresh question rather than a second decline.
func (s *Service) fallbackReply(session *Session) Reply {
	switch session.fallback {
	case fallbackNone, fallbackDeclined:
		session.fallback = fallbackAsked
		return Reply{Kind: ReplyClarify, Message: clarifyMessage}
	default:
		session.fallback = fallbackDeclined
		return Reply{Kind: ReplyDecline, Message: declineMessage}
	}
}

// blendConfidence combines retrieval strength with the classifier's own score.
// Both live in [0,1]; the blend weighs them equally.
func blendConfidence(topScore, clsConfidence float64) float64 {
	return 0.5*topScore + 0.5*clsConfidence
}

// sources dedupes retrieved chunks by section and, when a graph is wired,
// attaches per-document insights. Insight failures are logged and swallowed;
// citations without enrichment beat a failed answer.
func (s *Service) sources(ctx context.Context, contexts []Retrieved) []Source {
	seen := make(map[string]bool, len(contexts))
	docs := make([]string, 0, len(contexts))
	sources := make([]Source, 0, len(contexts))

	for _, chunk := range contexts {
		key := chunk.Document + "\x00" + chunk.Breadcrumb
		if seen[key] {
			continue
		}
		seen[key] = true
		if !containsString(docs, chunk.Document) {
			docs = append(docs, chunk.Document)
		}
		sources = append(sources, Source{
			Document:   chunk.Document,
			Breadcrumb: chunk.Breadcrumb,
			Snippet:    snippet(chunk.Text, 240),
			Score:      chunk.Score,
		})
	}

	if s.graph != nil {
		insights, err := s.graph.DocumentInsights(ctx, docs)
		if err != nil {
			s.logger.Printf("chat: document insights unavailable err=%v", err)
		} else {
			for i := range sources {
				sources[i].Insight = insights[sources[i].Document]
			}
		}
	}
	return sources
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
