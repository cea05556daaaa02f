package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	domain "github.com/zapa-ai/zapa/agentengine/domain"
)

// GeminiProvider is the adapter for the Google Gemini API through its native
// function-calling surface (Gemini no habla el dialecto de chat-completions,
// así que no puede compartir el adaptador OpenAI).
type GeminiProvider struct{}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{}
}

// Chat implementa la interfaz AIProvider enviando una petición a la API de Gemini
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if req.APIKey == "" {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: "google", Kind: domain.ErrAuth, Err: errors.New("missing api key"),
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.ChatResponse{}, p.classify(err)
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, "")
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		genConfig.Temperature = &t
	}
	if req.MaxTokens != nil {
		genConfig.MaxOutputTokens = int32(*req.MaxTokens)
	}

	// Herramientas
	var functionDecls []*genai.FunctionDeclaration
	for _, t := range req.Tools {
		functionDecls = append(functionDecls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.InputSchema),
		})
	}
	if len(functionDecls) > 0 {
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: functionDecls}}
	}

	// Historial y conversión de turnos
	var contents []*genai.Content
	for _, t := range req.History {
		// Si hay RawContent de una iteración previa, usarlo directamente
		if t.RawContent != nil {
			if raw, ok := t.RawContent.(*genai.Content); ok {
				contents = append(contents, raw)
				continue
			}
		}

		role := genai.RoleUser
		if t.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}

		// Turno del modelo con llamadas a funciones
		if len(t.ToolCalls) > 0 {
			parts := []*genai.Part{}
			if t.Text != "" {
				parts = append(parts, &genai.Part{Text: t.Text})
			}
			for _, tc := range t.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			continue
		}

		// Respuestas de herramientas: todas las de un turno van en el mismo
		// Content (requisito de Gemini)
		if len(t.ToolResponses) > 0 {
			parts := []*genai.Part{}
			for _, tr := range t.ToolResponses {
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.ID,
						Name:     tr.Name,
						Response: toResponseMap(tr.Data),
					},
				})
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: parts,
			})
			continue
		}

		// Turno de texto simple
		if t.Text != "" {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: t.Text}},
			})
		}
	}

	// Último mensaje del usuario
	if req.UserText != "" {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: req.UserText}},
		})
	}

	model := req.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	applyThinking(genConfig, model)

	result, err := client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return domain.ChatResponse{}, p.classify(err)
	}

	if result == nil || len(result.Candidates) == 0 {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: "google", Kind: domain.ErrUnavailable,
			Err: fmt.Errorf("no candidates in response"),
		}
	}

	candidate := result.Candidates[0]

	// Extraer texto manualmente de las partes (más robusto que result.Text())
	var fullText string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			fullText += part.Text
		}
	}

	resp := domain.ChatResponse{
		Text:       fullText,
		RawContent: candidate.Content,
	}

	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	if result.UsageMetadata != nil {
		resp.Usage = &domain.UsageStats{
			Model:        model,
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
		logrus.WithFields(logrus.Fields{
			"chat_key":       req.ChatKey,
			"provider":       "google",
			"model":          model,
			"input_tokens":   resp.Usage.InputTokens,
			"output_tokens":  resp.Usage.OutputTokens,
			"has_tool_calls": len(resp.ToolCalls) > 0,
		}).Debug("[AGENT] Chat completed")
	}

	return resp, nil
}

// classify traduce errores del SDK a la taxonomía de reintentos. El SDK de
// genai no expone códigos tipados estables, así que se inspecciona el texto.
func (p *GeminiProvider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.ProviderError{Provider: "google", Kind: domain.ErrTimeout, Err: err}
	}

	kind := domain.ErrUnavailable
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "api key") || strings.Contains(errStr, "api_key") ||
		strings.Contains(errStr, "unauthenticated") || strings.Contains(errStr, "permission"):
		kind = domain.ErrAuth
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted"):
		kind = domain.ErrRateLimited
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		kind = domain.ErrInvalid
	}

	return &domain.ProviderError{Provider: "google", Kind: kind, Err: err}
}

// convertSchema vierte un JSON Schema genérico en el tipo del SDK
func convertSchema(input map[string]any) *genai.Schema {
	data, _ := json.Marshal(input)
	var schema genai.Schema
	_ = json.Unmarshal(data, &schema)
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}

// toResponseMap garantiza el mapa que FunctionResponse exige; resultados que
// no son objetos se envuelven bajo "result".
func toResponseMap(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": data}
}

// applyThinking ajusta el presupuesto de razonamiento en los modelos que lo
// soportan; en el resto no toca nada.
func applyThinking(cfg *genai.GenerateContentConfig, model string) {
	isG3 := strings.Contains(model, "gemini-3")
	isG25 := strings.Contains(model, "gemini-2.5")
	if !isG3 && !isG25 {
		return
	}

	if cfg.ThinkingConfig == nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{}
	}
	if isG3 {
		cfg.ThinkingConfig.ThinkingLevel = genai.ThinkingLevel("high")
	} else {
		budget := int32(-1) // dinámico
		cfg.ThinkingConfig.ThinkingBudget = &budget
	}
}
