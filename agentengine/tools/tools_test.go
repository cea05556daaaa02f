package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domainMessage "github.com/zapa-ai/zapa/domains/message"
)

// fakeMessages implementa solo los métodos que las herramientas usan; el
// resto del contrato queda embebido y no se toca.
type fakeMessages struct {
	domainMessage.IMessageUsecase

	recent    []domainMessage.Message
	search    []domainMessage.Message
	stats     domainMessage.ConversationStats
	recentErr error

	gotQuery string
	gotLimit int
	gotN     int
}

func (f *fakeMessages) Recent(ctx context.Context, userID int64, n int) ([]domainMessage.Message, error) {
	f.gotN = n
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent, nil
}

func (f *fakeMessages) Search(ctx context.Context, userID int64, query string, limit int) ([]domainMessage.Message, error) {
	f.gotQuery = query
	f.gotLimit = limit
	return f.search, nil
}

func (f *fakeMessages) Stats(ctx context.Context, userID int64) (domainMessage.ConversationStats, error) {
	return f.stats, nil
}

func msg(id int64, dir domainMessage.Direction, content string, ts time.Time) domainMessage.Message {
	return domainMessage.Message{
		ID:        id,
		UserID:    7,
		Direction: dir,
		Kind:      domainMessage.KindText,
		Content:   content,
		Timestamp: ts,
	}
}

func TestRegistry_Definitions_StableContract(t *testing.T) {
	r := NewRegistry(7, &fakeMessages{})

	defs := r.Definitions()
	if len(defs) != 5 {
		t.Fatalf("Definitions() returned %d tools, want 5", len(defs))
	}

	wantNames := []string{
		"search_messages",
		"get_recent_messages",
		"summarize_chat",
		"extract_tasks",
		"get_conversation_stats",
	}
	for i, want := range wantNames {
		if defs[i].Name != want {
			t.Errorf("tool %d named %q, want %q", i, defs[i].Name, want)
		}
		if defs[i].InputSchema["type"] != "object" {
			t.Errorf("tool %q schema type = %v, want object", defs[i].Name, defs[i].InputSchema["type"])
		}
	}

	// search_messages es la única con parámetro obligatorio
	required, ok := defs[0].InputSchema["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "query" {
		t.Fatalf("search_messages required = %v, want [query]", defs[0].InputSchema["required"])
	}
}

func TestRegistry_SearchMessages_ShapesResults(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeMessages{search: []domainMessage.Message{
		msg(3, domainMessage.DirectionIncoming, "buy milk tomorrow", ts),
		msg(2, domainMessage.DirectionOutgoing, "Noted!", ts.Add(-time.Minute)),
		msg(1, domainMessage.DirectionSystem, "Your assistant isn't configured yet.", ts.Add(-2*time.Minute)),
	}}
	r := NewRegistry(7, fake)

	out, err := r.Execute(context.Background(), "search_messages", map[string]any{"query": "milk"})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if fake.gotQuery != "milk" || fake.gotLimit != 10 {
		t.Fatalf("search got (%q, %d), want (milk, 10)", fake.gotQuery, fake.gotLimit)
	}

	results, ok := out["results"].([]map[string]any)
	if !ok || len(results) != 3 {
		t.Fatalf("results = %v, want 3 entries", out["results"])
	}
	first := results[0]
	if first["message_id"] != int64(3) {
		t.Errorf("message_id = %v, want 3", first["message_id"])
	}
	if first["content"] != "buy milk tomorrow" {
		t.Errorf("content = %v", first["content"])
	}
	if first["sender"] != "user" {
		t.Errorf("sender = %v, want user", first["sender"])
	}
	if first["timestamp"] != "2025-06-01T10:00:00Z" {
		t.Errorf("timestamp = %v", first["timestamp"])
	}
	if first["relevance_score"] != 1.0 {
		t.Errorf("relevance_score = %v, want 1.0", first["relevance_score"])
	}
	if results[1]["sender"] != "assistant" || results[2]["sender"] != "system" {
		t.Errorf("sender mapping = %v / %v", results[1]["sender"], results[2]["sender"])
	}
}

func TestRegistry_SearchMessages_RequiresQuery(t *testing.T) {
	r := NewRegistry(7, &fakeMessages{})

	if _, err := r.Execute(context.Background(), "search_messages", map[string]any{"query": "  "}); err == nil {
		t.Fatalf("Execute() expected error for blank query, got nil")
	}
}

func TestRegistry_RecentMessages_ChronologicalOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// Recent() entrega del más nuevo al más viejo; la herramienta invierte
	fake := &fakeMessages{recent: []domainMessage.Message{
		msg(3, domainMessage.DirectionIncoming, "third", base.Add(2*time.Minute)),
		msg(2, domainMessage.DirectionOutgoing, "second", base.Add(time.Minute)),
		msg(1, domainMessage.DirectionIncoming, "first", base),
	}}
	r := NewRegistry(7, fake)

	// Los argumentos llegan como float64 tras el unmarshal de JSON
	out, err := r.Execute(context.Background(), "get_recent_messages", map[string]any{"count": float64(3)})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if fake.gotN != 3 {
		t.Fatalf("Recent called with n=%d, want 3", fake.gotN)
	}

	results := out["results"].([]map[string]any)
	if results[0]["content"] != "first" || results[2]["content"] != "third" {
		t.Fatalf("results not chronological: %v", results)
	}
}

func TestRegistry_SummarizeChat_EmptyHistory(t *testing.T) {
	r := NewRegistry(7, &fakeMessages{})

	out, err := r.Execute(context.Background(), "summarize_chat", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if out["summary"] != "No messages found to summarize." {
		t.Errorf("summary = %v", out["summary"])
	}
	if out["message_count"] != 0 {
		t.Errorf("message_count = %v, want 0", out["message_count"])
	}
}

func TestRegistry_SummarizeChat_HeuristicAndNested(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeMessages{recent: []domainMessage.Message{
		msg(2, domainMessage.DirectionOutgoing, "Sure, noted.", base.Add(time.Minute)),
		msg(1, domainMessage.DirectionIncoming, "remind me to call mom", base),
	}}

	// Sin resumidor: heurística
	r := NewRegistry(7, fake)
	out, err := r.Execute(context.Background(), "summarize_chat", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if out["summary"] != "Conversation between user and assistant covering 2 messages." {
		t.Errorf("heuristic summary = %v", out["summary"])
	}
	dateRange := out["date_range"].(map[string]any)
	if dateRange["start"] != "2025-06-01T10:00:00Z" || dateRange["end"] != "2025-06-01T10:01:00Z" {
		t.Errorf("date_range = %v", dateRange)
	}

	// Con resumidor: usa el texto generado
	var seen string
	r = NewRegistry(7, fake).WithSummarizer(func(ctx context.Context, conversation string) (string, error) {
		seen = conversation
		return "User asked for a reminder to call their mom.", nil
	})
	out, err = r.Execute(context.Background(), "summarize_chat", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if out["summary"] != "User asked for a reminder to call their mom." {
		t.Errorf("nested summary = %v", out["summary"])
	}
	if !strings.Contains(seen, "user: remind me to call mom") {
		t.Errorf("summarizer did not receive formatted conversation: %q", seen)
	}

	// Resumidor roto: cae a la heurística, no a error
	r = NewRegistry(7, fake).WithSummarizer(func(ctx context.Context, conversation string) (string, error) {
		return "", errors.New("provider down")
	})
	out, err = r.Execute(context.Background(), "summarize_chat", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if out["summary"] != "Conversation between user and assistant covering 2 messages." {
		t.Errorf("fallback summary = %v", out["summary"])
	}
}

func TestRegistry_ExtractTasks_KeywordHeuristic(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	long := "I need to " + strings.Repeat("x", 200)
	fake := &fakeMessages{recent: []domainMessage.Message{
		msg(3, domainMessage.DirectionIncoming, long, base.Add(2*time.Minute)),
		msg(2, domainMessage.DirectionOutgoing, "Sounds good!", base.Add(time.Minute)),
		msg(1, domainMessage.DirectionIncoming, "DON'T FORGET the dentist", base),
	}}
	r := NewRegistry(7, fake)

	out, err := r.Execute(context.Background(), "extract_tasks", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}

	tasks := out["tasks"].([]map[string]any)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2 (keyword match is case-insensitive)", len(tasks))
	}
	if tasks[0]["task"] != "DON'T FORGET the dentist" {
		t.Errorf("task[0] = %v", tasks[0]["task"])
	}
	if got := tasks[1]["task"].(string); len([]rune(got)) != 100 {
		t.Errorf("task excerpt length = %d runes, want 100", len([]rune(got)))
	}
	if tasks[0]["priority"] != "medium" || tasks[0]["completed"] != false {
		t.Errorf("task defaults = %v / %v", tasks[0]["priority"], tasks[0]["completed"])
	}
}

func TestRegistry_ConversationStats(t *testing.T) {
	first := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeMessages{stats: domainMessage.ConversationStats{
		Total:     10,
		Incoming:  6,
		Outgoing:  3,
		FirstAt:   &first,
		LastAt:    &last,
		AvgPerDay: 0.31,
	}}
	r := NewRegistry(7, fake)

	out, err := r.Execute(context.Background(), "get_conversation_stats", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if out["total_messages"] != int64(10) || out["user_messages"] != int64(6) {
		t.Errorf("counts = %v / %v", out["total_messages"], out["user_messages"])
	}
	// assistant cuenta todo lo que no vino del usuario, incluidas filas SYSTEM
	if out["assistant_messages"] != int64(4) {
		t.Errorf("assistant_messages = %v, want 4", out["assistant_messages"])
	}
	if out["average_messages_per_day"] != 0.31 {
		t.Errorf("average_messages_per_day = %v", out["average_messages_per_day"])
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewRegistry(7, &fakeMessages{})

	if _, err := r.Execute(context.Background(), "drop_tables", map[string]any{}); err == nil {
		t.Fatalf("Execute() expected error for unknown tool, got nil")
	}
}
