package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	"github.com/zapa-ai/zapa/pkg/utils"
)

// QueryHandler exposes read-only history tools over MCP. Unlike the chat
// agent, whose tools are locked to the message owner, these take an
// explicit phone_number: the MCP surface is operator-trusted.
type QueryHandler struct {
	userService    domainUser.IUserUsecase
	messageService domainMessage.IMessageUsecase
}

func InitMcpQuery(userService domainUser.IUserUsecase, messageService domainMessage.IMessageUsecase) *QueryHandler {
	return &QueryHandler{
		userService:    userService,
		messageService: messageService,
	}
}

func (h *QueryHandler) AddQueryTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(h.toolSearchMessages(), h.handleSearchMessages)
	mcpServer.AddTool(h.toolRecentMessages(), h.handleRecentMessages)
	mcpServer.AddTool(h.toolConversationStats(), h.handleConversationStats)
}

func (h *QueryHandler) resolveUser(ctx context.Context, phone string) (domainUser.User, error) {
	return h.userService.GetByPhone(ctx, utils.NormalizePhone(phone))
}

func (h *QueryHandler) toolSearchMessages() mcp.Tool {
	return mcp.NewTool(
		"zapa_search_messages",
		mcp.WithDescription("Search a user's message history by content."),
		mcp.WithTitleAnnotation("Search Messages"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("phone_number",
			mcp.Description("Phone number of the user whose history to search."),
			mcp.Required(),
		),
		mcp.WithString("query",
			mcp.Description("Text to look for in message content."),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 20)."),
		),
	)
}

func (h *QueryHandler) handleSearchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := request.RequireString("phone_number")
	if err != nil {
		return nil, err
	}
	query, err := request.RequireString("query")
	if err != nil {
		return nil, err
	}
	limit := request.GetInt("limit", 20)

	user, err := h.resolveUser(ctx, phone)
	if err != nil {
		return nil, err
	}

	messages, err := h.messageService.Search(ctx, user.ID, query, limit)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"query":   query,
		"count":   len(messages),
		"results": messages,
	}
	fallback := fmt.Sprintf("Found %d message(s) matching %q", len(messages), query)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *QueryHandler) toolRecentMessages() mcp.Tool {
	return mcp.NewTool(
		"zapa_recent_messages",
		mcp.WithDescription("Fetch a user's most recent messages in chronological order."),
		mcp.WithTitleAnnotation("Recent Messages"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("phone_number",
			mcp.Description("Phone number of the user whose history to read."),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description("How many messages to return (default 20)."),
		),
	)
}

func (h *QueryHandler) handleRecentMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := request.RequireString("phone_number")
	if err != nil {
		return nil, err
	}
	limit := request.GetInt("limit", 20)

	user, err := h.resolveUser(ctx, phone)
	if err != nil {
		return nil, err
	}

	messages, err := h.messageService.Recent(ctx, user.ID, limit)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"count":    len(messages),
		"messages": messages,
	}
	fallback := fmt.Sprintf("Fetched %d recent message(s)", len(messages))
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *QueryHandler) toolConversationStats() mcp.Tool {
	return mcp.NewTool(
		"zapa_conversation_stats",
		mcp.WithDescription("Aggregate statistics over a user's whole conversation history."),
		mcp.WithTitleAnnotation("Conversation Stats"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("phone_number",
			mcp.Description("Phone number of the user to summarize."),
			mcp.Required(),
		),
	)
}

func (h *QueryHandler) handleConversationStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := request.RequireString("phone_number")
	if err != nil {
		return nil, err
	}

	user, err := h.resolveUser(ctx, phone)
	if err != nil {
		return nil, err
	}

	stats, err := h.messageService.Stats(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	fallback := fmt.Sprintf("%d message(s) total, %d incoming / %d outgoing", stats.Total, stats.Incoming, stats.Outgoing)
	return mcp.NewToolResultStructured(stats, fallback), nil
}
