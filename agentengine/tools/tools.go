package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/zapa-ai/zapa/agentengine/domain"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
)

// Default argument values. They also appear in the published JSON schemas, so
// changing one changes what every model sees.
const (
	defaultSearchLimit  = 10
	defaultRecentCount  = 20
	defaultSummarizeN   = 50
	defaultExtractN     = 100
	maxTaskExcerptRunes = 100
)

// actionKeywords marca mensajes que probablemente contienen una tarea.
// Heurística mínima; un modelo puede reemplazarla más adelante.
var actionKeywords = []string{
	"todo",
	"task",
	"remind",
	"need to",
	"should",
	"must",
	"have to",
	"don't forget",
	"remember to",
}

// SummarizeFunc genera el resumen de una conversación ya formateada. El
// Orchestrator inyecta una que hace UNA llamada al proveedor activo; sin ella
// (o si falla) se usa la heurística.
type SummarizeFunc func(ctx context.Context, conversation string) (string, error)

// Registry expone las herramientas de historial de un usuario concreto.
// Todas operan sobre mensajes almacenados; ninguna toca la red por sí misma.
type Registry struct {
	userID    int64
	messages  domainMessage.IMessageUsecase
	summarize SummarizeFunc
}

func NewRegistry(userID int64, messages domainMessage.IMessageUsecase) *Registry {
	return &Registry{
		userID:   userID,
		messages: messages,
	}
}

// WithSummarizer habilita el resumen vía modelo para summarize_chat.
func (r *Registry) WithSummarizer(fn SummarizeFunc) *Registry {
	r.summarize = fn
	return r
}

// Definitions devuelve los esquemas publicados al modelo. Los nombres y
// parámetros son contrato estable: renombrar uno rompe a los clientes.
func (r *Registry) Definitions() []domain.Tool {
	return []domain.Tool{
		{
			Name:        "search_messages",
			Description: "Search through the user's conversation history",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query for finding relevant messages",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return",
						"default":     defaultSearchLimit,
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_recent_messages",
			Description: "Get the most recent messages from the conversation",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"count": map[string]any{
						"type":        "integer",
						"description": "Number of recent messages to retrieve",
						"default":     defaultRecentCount,
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "summarize_chat",
			Description: "Generate a summary of the recent conversation",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"last_n": map[string]any{
						"type":        "integer",
						"description": "Number of recent messages to summarize",
						"default":     defaultSummarizeN,
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "extract_tasks",
			Description: "Extract actionable tasks mentioned in the conversation",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"last_n": map[string]any{
						"type":        "integer",
						"description": "Number of recent messages to analyze",
						"default":     defaultExtractN,
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "get_conversation_stats",
			Description: "Get statistics about the conversation",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
		},
	}
}

// Execute corre una herramienta por nombre. El resultado siempre es un mapa
// para que cualquier proveedor pueda re-inyectarlo como respuesta de función.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "search_messages":
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return nil, fmt.Errorf("search_messages: query is required")
		}
		return r.searchMessages(ctx, query, intArg(args, "limit", defaultSearchLimit))
	case "get_recent_messages":
		return r.recentMessages(ctx, intArg(args, "count", defaultRecentCount))
	case "summarize_chat":
		return r.summarizeChat(ctx, intArg(args, "last_n", defaultSummarizeN))
	case "extract_tasks":
		return r.extractTasks(ctx, intArg(args, "last_n", defaultExtractN))
	case "get_conversation_stats":
		return r.conversationStats(ctx)
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

func (r *Registry) searchMessages(ctx context.Context, query string, limit int) (map[string]any, error) {
	msgs, err := r.messages.Search(ctx, r.userID, query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": toSearchResults(msgs)}, nil
}

func (r *Registry) recentMessages(ctx context.Context, count int) (map[string]any, error) {
	msgs, err := r.recentChronological(ctx, count)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": toSearchResults(msgs)}, nil
}

func (r *Registry) summarizeChat(ctx context.Context, lastN int) (map[string]any, error) {
	msgs, err := r.recentChronological(ctx, lastN)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return map[string]any{
			"summary":       "No messages found to summarize.",
			"message_count": 0,
			"date_range":    map[string]any{},
			"key_topics":    []string{},
		}, nil
	}

	summary := fmt.Sprintf("Conversation between user and assistant covering %d messages.", len(msgs))
	if r.summarize != nil {
		var b strings.Builder
		for _, m := range msgs {
			b.WriteString(senderOf(m))
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		if generated, err := r.summarize(ctx, b.String()); err == nil && strings.TrimSpace(generated) != "" {
			summary = generated
		}
	}

	return map[string]any{
		"summary":       summary,
		"message_count": len(msgs),
		"date_range": map[string]any{
			"start": msgs[0].Timestamp.UTC().Format(time.RFC3339),
			"end":   msgs[len(msgs)-1].Timestamp.UTC().Format(time.RFC3339),
		},
		"key_topics": []string{"general conversation"},
	}, nil
}

func (r *Registry) extractTasks(ctx context.Context, lastN int) (map[string]any, error) {
	msgs, err := r.recentChronological(ctx, lastN)
	if err != nil {
		return nil, err
	}

	tasks := []map[string]any{}
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, keyword := range actionKeywords {
			if strings.Contains(lower, keyword) {
				tasks = append(tasks, map[string]any{
					"task":         truncateRunes(m.Content, maxTaskExcerptRunes),
					"mentioned_at": m.Timestamp.UTC().Format(time.RFC3339),
					"priority":     "medium",
					"completed":    false,
				})
				break
			}
		}
	}

	return map[string]any{"tasks": tasks}, nil
}

func (r *Registry) conversationStats(ctx context.Context) (map[string]any, error) {
	stats, err := r.messages.Stats(ctx, r.userID)
	if err != nil {
		return nil, err
	}

	dateRange := map[string]any{}
	if stats.FirstAt != nil && stats.LastAt != nil {
		dateRange["start"] = stats.FirstAt.UTC().Format(time.RFC3339)
		dateRange["end"] = stats.LastAt.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"total_messages":           stats.Total,
		"user_messages":            stats.Incoming,
		"assistant_messages":       stats.Total - stats.Incoming,
		"date_range":               dateRange,
		"average_messages_per_day": stats.AvgPerDay,
	}, nil
}

// recentChronological trae los últimos n mensajes y los invierte a orden
// cronológico, que es el que esperan los consumidores de estas herramientas.
func (r *Registry) recentChronological(ctx context.Context, n int) ([]domainMessage.Message, error) {
	msgs, err := r.messages.Recent(ctx, r.userID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func toSearchResults(msgs []domainMessage.Message) []map[string]any {
	results := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, map[string]any{
			"message_id":      m.ID,
			"content":         m.Content,
			"sender":          senderOf(m),
			"timestamp":       m.Timestamp.UTC().Format(time.RFC3339),
			"relevance_score": 1.0,
		})
	}
	return results
}

func senderOf(m domainMessage.Message) string {
	switch m.Direction {
	case domainMessage.DirectionIncoming:
		return "user"
	case domainMessage.DirectionSystem:
		return "system"
	}
	return "assistant"
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
