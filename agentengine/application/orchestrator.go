package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domain "github.com/zapa-ai/zapa/agentengine/domain"
	"github.com/zapa-ai/zapa/agentengine/providers"
	"github.com/zapa-ai/zapa/agentengine/tools"
	"github.com/zapa-ai/zapa/core/config"
	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// DefaultSystemPrompt guía al asistente cuando el usuario no definió
// model_settings.system_prompt.
const DefaultSystemPrompt = `You are a helpful WhatsApp assistant with access to the user's message history.

You can:
- Search through past messages
- Retrieve recent conversations
- Summarize chat history
- Extract tasks from conversations
- Provide conversation statistics

Be conversational and helpful. When users ask about their message history, use the available tools to provide accurate information.`

// Respuestas fijas. Se persisten como filas SYSTEM y se entregan igual que
// cualquier respuesta, con el motivo en media_metadata.failure_code.
const (
	NoConfigReply       = "Your assistant isn't configured yet."
	FailureReply        = "I apologize, but I encountered an error processing your message. Please try again."
	BudgetExceededReply = "I apologize, but I couldn't complete your request within the tool-call budget. Please try a simpler question."
)

// Códigos de fallo que acompañan a las respuestas fijas.
const (
	codeNoConfig       = "no_llm_config"
	codeProviderAuth   = "provider_auth"
	codeProviderConfig = "provider_config"
	codeProviderError  = "provider_error"
)

const defaultTemperature = 0.7

// Orchestrator maneja el ciclo de vida de un job del agente: resolver la
// configuración del usuario, armar el contexto, iterar el bucle de
// herramientas y dejar la respuesta persistida y encolada para envío.
type Orchestrator struct {
	llmConfigs domainLLM.ILLMConfigUsecase
	messages   domainMessage.IMessageUsecase
	queue      domainQueue.IOutboundQueue
	cfg        config.AgentConfig

	// newProvider se inyecta en tests; en producción es providers.ForProvider.
	newProvider func(p domainLLM.Provider, s domainLLM.ModelSettings) (domain.AIProvider, error)

	// Pausas antes del único reintento por clase de error.
	retryDelay     time.Duration
	rateLimitDelay time.Duration

	// OnFailed notifica al supervisor los jobs que caen a StateFailed.
	OnFailed func(userID, messageID int64, state domain.JobState, err error)
}

func NewOrchestrator(
	llmConfigs domainLLM.ILLMConfigUsecase,
	messages domainMessage.IMessageUsecase,
	queue domainQueue.IOutboundQueue,
	cfg config.AgentConfig,
) *Orchestrator {
	return &Orchestrator{
		llmConfigs:     llmConfigs,
		messages:       messages,
		queue:          queue,
		cfg:            cfg,
		newProvider:    providers.ForProvider,
		retryDelay:     250 * time.Millisecond,
		rateLimitDelay: time.Second,
	}
}

// Process atiende un mensaje entrante ya persistido. Devuelve error solo en
// fallos de infraestructura; los fallos de proveedor terminan en una
// respuesta fija y se reportan vía OnFailed.
func (o *Orchestrator) Process(ctx context.Context, req domain.AgentRequest) error {
	state := domain.StateStoredIncoming
	started := time.Now()

	cfg, apiKey, err := o.llmConfigs.ActiveForAgent(ctx, req.UserID)
	if err != nil {
		var notFound pkgError.NotFoundError
		if errors.As(err, &notFound) {
			logrus.Infof("[AGENT] No LLM config for user %d, sending canned reply", req.UserID)
			return o.sendCanned(ctx, req, NoConfigReply, codeNoConfig)
		}
		return o.fail(req, state, err)
	}

	provider, err := o.newProvider(cfg.Provider, cfg.ModelSettings)
	if err != nil {
		o.report(req, state, err)
		return o.sendCanned(ctx, req, FailureReply, codeProviderConfig)
	}

	chatReq, err := o.buildRequest(ctx, req, cfg, apiKey)
	if err != nil {
		return o.fail(req, state, err)
	}

	registry := tools.NewRegistry(req.UserID, o.messages).
		WithSummarizer(o.summarizerFor(provider, chatReq))
	chatReq.Tools = registry.Definitions()

	// Mover el texto del usuario al historial para no repetirlo en cada vuelta
	if chatReq.UserText != "" {
		chatReq.History = append(chatReq.History, domain.ChatTurn{
			Role: domain.RoleUser,
			Text: chatReq.UserText,
		})
		chatReq.UserText = ""
	}

	loopCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolLoopBudget)
	defer cancel()

	var finalText string
	rounds := 0
	exhausted := true
	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		rounds = round + 1
		state = domain.StateLLMCall

		res, err := o.chatWithRetry(loopCtx, provider, chatReq)
		if err != nil {
			kind := domain.KindOf(err)
			code := codeProviderError
			if kind == domain.ErrAuth {
				code = codeProviderAuth
			}
			o.report(req, state, err)
			return o.sendCanned(ctx, req, FailureReply, code)
		}

		// Sin llamadas a herramientas: la respuesta de texto es la final
		if len(res.ToolCalls) == 0 {
			finalText = res.Text
			exhausted = false
			break
		}

		state = domain.StateToolCall

		// Turno del asistente con las llamadas; RawContent preserva el
		// contenido exacto del proveedor para la siguiente vuelta
		chatReq.History = append(chatReq.History, domain.ChatTurn{
			Role:       domain.RoleAssistant,
			Text:       res.Text,
			ToolCalls:  res.ToolCalls,
			RawContent: res.RawContent,
		})

		responses := make([]domain.ToolResponse, 0, len(res.ToolCalls))
		for _, tc := range res.ToolCalls {
			var data any
			result, terr := registry.Execute(loopCtx, tc.Name, tc.Args)
			if terr != nil {
				logrus.WithError(terr).Warnf("[AGENT] Tool %s failed for user %d", tc.Name, req.UserID)
				data = map[string]any{"error": terr.Error()}
			} else {
				data = result
			}
			responses = append(responses, domain.ToolResponse{ID: tc.ID, Name: tc.Name, Data: data})
		}

		// Un único turno con TODAS las respuestas del round (requisito de
		// Gemini; OpenAI lo acepta igual)
		chatReq.History = append(chatReq.History, domain.ChatTurn{
			Role:          domain.RoleUser,
			ToolResponses: responses,
		})
	}

	if exhausted {
		logrus.Warnf("[AGENT] Tool budget exhausted for user %d after %d rounds", req.UserID, rounds)
		finalText = BudgetExceededReply
	}
	if strings.TrimSpace(finalText) == "" {
		logrus.Warnf("[AGENT] Empty reply from provider for user %d, sending canned reply", req.UserID)
		return o.sendCanned(ctx, req, FailureReply, codeProviderError)
	}

	// Persistir ANTES de encolar: una caída entre ambos pasos la repesca la
	// reconciliación de arranque
	state = domain.StateStoredReply
	stored, err := o.messages.Store(ctx, domainMessage.StoreRequest{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		SenderJID:    "assistant",
		RecipientJID: req.UserJID,
		Timestamp:    time.Now().UTC(),
		Kind:         domainMessage.KindText,
		Direction:    domainMessage.DirectionOutgoing,
		Content:      finalText,
	})
	if err != nil {
		return o.fail(req, state, err)
	}

	state = domain.StateEnqueuedSend
	if _, err := o.queue.Enqueue(ctx, domainQueue.EnqueueRequest{
		ToNumber:  req.UserJID,
		Content:   finalText,
		Priority:  domainQueue.PriorityNormal,
		MessageID: stored.ID,
	}); err != nil {
		return o.fail(req, state, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"msg_id":   req.MessageID,
		"reply_id": stored.ID,
		"rounds":   rounds,
		"took":     time.Since(started).Round(time.Millisecond).String(),
	}).Info("[AGENT] Reply stored and enqueued")
	return nil
}

// buildRequest arma la petición base: prompt de sistema, historial K en orden
// cronológico y parámetros del modelo. La fila entrante se excluye del
// historial porque viaja como texto actual.
func (o *Orchestrator) buildRequest(ctx context.Context, req domain.AgentRequest, cfg domainLLM.Config, apiKey string) (domain.ChatRequest, error) {
	settings := cfg.ModelSettings

	k := o.cfg.ContextMessages
	if v, ok := settings.GetInt("max_context_messages"); ok && v > 0 {
		k = v
	}

	recent, err := o.messages.Recent(ctx, req.UserID, k+1)
	if err != nil {
		return domain.ChatRequest{}, err
	}

	history := make([]domain.ChatTurn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- { // del más viejo al más nuevo
		m := recent[i]
		if m.ID == req.MessageID || m.Content == "" {
			continue
		}
		switch m.Direction {
		case domainMessage.DirectionIncoming:
			history = append(history, domain.ChatTurn{Role: domain.RoleUser, Text: m.Content})
		case domainMessage.DirectionOutgoing:
			history = append(history, domain.ChatTurn{Role: domain.RoleAssistant, Text: m.Content})
		}
		// SYSTEM (respuestas fijas) no aporta contexto al modelo
	}
	if len(history) > k {
		history = history[len(history)-k:]
	}

	systemPrompt := DefaultSystemPrompt
	if v, ok := settings.GetString("system_prompt"); ok {
		systemPrompt = v
	}

	temperature := defaultTemperature
	if v, ok := settings.GetFloat("temperature"); ok {
		temperature = v
	}

	chatReq := domain.ChatRequest{
		APIKey:       apiKey,
		SystemPrompt: systemPrompt,
		History:      history,
		UserText:     req.Text,
		Temperature:  &temperature,
		ChatKey:      fmt.Sprintf("user-%d", req.UserID),
	}
	if v, ok := settings.GetString("model"); ok {
		chatReq.Model = v
	}
	if v, ok := settings.GetInt("max_tokens"); ok && v > 0 {
		mt := int64(v)
		chatReq.MaxTokens = &mt
	}

	// Presupuesto de tokens: recorta lo más viejo hasta caber
	if budget, ok := settings.GetInt("max_context_tokens"); ok && budget > 0 {
		fixed := estimateTokens(systemPrompt) + estimateTokens(req.Text)
		for len(chatReq.History) > 0 && fixed+historyTokens(chatReq.History) > budget {
			chatReq.History = chatReq.History[1:]
		}
	}

	return chatReq, nil
}

// chatWithRetry aplica la política de reintento: auth nunca reintenta,
// rate-limit espera con jitter, el resto reintenta una vez tras una pausa
// corta. El contexto agotado corta en seco.
func (o *Orchestrator) chatWithRetry(ctx context.Context, p domain.AIProvider, req domain.ChatRequest) (domain.ChatResponse, error) {
	res, err := p.Chat(ctx, req)
	if err == nil {
		return res, nil
	}

	kind := domain.KindOf(err)
	if kind == domain.ErrAuth || ctx.Err() != nil {
		return domain.ChatResponse{}, err
	}

	delay := o.retryDelay
	if kind == domain.ErrRateLimited {
		delay = o.rateLimitDelay + time.Duration(rand.Int63n(int64(o.rateLimitDelay)))
	}
	logrus.WithError(err).Warnf("[AGENT] Provider error (%s), retrying in %s", kind, delay.Round(time.Millisecond))

	select {
	case <-ctx.Done():
		return domain.ChatResponse{}, err
	case <-time.After(delay):
	}
	return p.Chat(ctx, req)
}

// summarizerFor produce la única llamada anidada que summarize_chat puede
// hacer: un resumen sin herramientas contra el mismo proveedor.
func (o *Orchestrator) summarizerFor(p domain.AIProvider, base domain.ChatRequest) tools.SummarizeFunc {
	return func(ctx context.Context, conversation string) (string, error) {
		res, err := p.Chat(ctx, domain.ChatRequest{
			APIKey:       base.APIKey,
			Model:        base.Model,
			SystemPrompt: "Summarize the following WhatsApp conversation in two or three sentences. Mention the main topics discussed.",
			UserText:     conversation,
			ChatKey:      base.ChatKey,
		})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

// sendCanned persiste una respuesta fija como fila SYSTEM y la encola para
// entrega. El motivo queda en media_metadata para diagnóstico.
func (o *Orchestrator) sendCanned(ctx context.Context, req domain.AgentRequest, text, code string) error {
	stored, err := o.messages.Store(ctx, domainMessage.StoreRequest{
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		SenderJID:     "system",
		RecipientJID:  req.UserJID,
		Timestamp:     time.Now().UTC(),
		Kind:          domainMessage.KindText,
		Direction:     domainMessage.DirectionSystem,
		Content:       text,
		MediaMetadata: map[string]any{"failure_code": code},
	})
	if err != nil {
		return o.fail(req, domain.StateStoredReply, err)
	}

	if _, err := o.queue.Enqueue(ctx, domainQueue.EnqueueRequest{
		ToNumber:  req.UserJID,
		Content:   text,
		Priority:  domainQueue.PriorityNormal,
		MessageID: stored.ID,
	}); err != nil {
		return o.fail(req, domain.StateEnqueuedSend, err)
	}
	return nil
}

func (o *Orchestrator) fail(req domain.AgentRequest, state domain.JobState, err error) error {
	o.report(req, state, err)
	return err
}

func (o *Orchestrator) report(req domain.AgentRequest, state domain.JobState, err error) {
	logrus.WithError(err).Errorf("[AGENT] Job failed at %s for user %d msg %d", state, req.UserID, req.MessageID)
	if o.OnFailed != nil {
		o.OnFailed(req.UserID, req.MessageID, state, err)
	}
}

func estimateTokens(text string) int {
	return len(text) / 4
}

func historyTokens(history []domain.ChatTurn) int {
	total := 0
	for _, t := range history {
		total += estimateTokens(t.Text)
	}
	return total
}
