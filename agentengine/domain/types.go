package domain

import "context"

// Roles de los turnos de conversación, compartidos por todos los proveedores.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall representa una llamada a herramienta solicitada por el modelo
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResponse es el resultado de ejecutar una herramienta
type ToolResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data any    `json:"data"`
}

// ChatTurn es un turno del historial de conversación
type ChatTurn struct {
	Role          string         `json:"role"` // RoleUser | RoleAssistant
	Text          string         `json:"text"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	ToolResponses []ToolResponse `json:"tool_responses,omitempty"`
	// RawContent almacena el contenido original del proveedor (ej: *genai.Content)
	// para ser re-inyectado tal cual en iteraciones subsecuentes del bucle de
	// herramientas. No se serializa.
	RawContent interface{} `json:"-"`
}

// Tool describe una herramienta invocable por el modelo. El esquema de
// entrada es JSON Schema y forma parte del contrato: los nombres son estables.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatRequest es una petición agnóstica de chat. La credencial viaja en cada
// llamada; los adaptadores no la retienen.
type ChatRequest struct {
	APIKey       string
	Model        string
	Temperature  *float64
	MaxTokens    *int64
	SystemPrompt string
	History      []ChatTurn
	UserText     string
	Tools        []Tool
	ChatKey      string // identificador de sesión para logs (ej: "user-42")
}

// UsageStats contiene estadísticas de tokens de una respuesta
type UsageStats struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ChatResponse es la respuesta agnóstica de un proveedor de IA
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
	// RawContent preserva el contenido exacto del proveedor para que el
	// Orchestrator lo devuelva sin re-codificar en la siguiente iteración.
	RawContent interface{}
	Usage      *UsageStats
}

// AIProvider es la interfaz delgada que implementan los adaptadores de modelo
type AIProvider interface {
	// Chat envía el contexto y herramientas al modelo y devuelve texto o
	// llamadas a herramientas. Los errores se clasifican como *ProviderError.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// JobState es el estado de un job del agente. Un job avanza en orden y puede
// caer a StateFailed desde cualquier estado.
type JobState string

const (
	StateReceived       JobState = "RECEIVED"
	StateStoredIncoming JobState = "STORED_INCOMING"
	StateLLMCall        JobState = "LLM_CALL"
	StateToolCall       JobState = "TOOL_CALL"
	StateStoredReply    JobState = "STORED_REPLY"
	StateEnqueuedSend   JobState = "ENQUEUED_SEND"
	StateDone           JobState = "DONE"
	StateFailed         JobState = "FAILED"
)

// AgentRequest identifica el mensaje entrante que dispara un job. El webhook
// ya persistió la fila; aquí solo viajan las referencias.
type AgentRequest struct {
	UserID    int64
	SessionID int64
	MessageID int64
	UserJID   string
	Text      string
}
