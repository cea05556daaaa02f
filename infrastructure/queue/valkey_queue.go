package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/zapa-ai/zapa/core/config"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	"github.com/zapa-ai/zapa/infrastructure/valkey"
)

// Lua script for the atomic claim: pop the least-scored pending id, load its
// payload and mark it in-flight, all in one round trip so concurrent workers
// never double-claim.
const popScript = `
local ids = redis.call("zrange", KEYS[1], 0, 0)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call("zrem", KEYS[1], id)
local payload = redis.call("hget", KEYS[2], id)
if not payload then
	return false
end
redis.call("zadd", KEYS[3], ARGV[1], id)
return payload
`

// ValkeyQueue is the durable outbound send queue. Pending ids live in a
// sorted set scored by -priority*1e6 + created_at, payloads in a hash, and
// in-flight ids in a second sorted set scored by claim time so stale claims
// can be detected.
type ValkeyQueue struct {
	client *valkey.Client
	cfg    config.QueueConfig

	pendingKey    string
	processingKey string
	itemsKey      string
	deadKey       string
}

var (
	_ domainQueue.IOutboundQueue = (*ValkeyQueue)(nil)
	_ Store                      = (*ValkeyQueue)(nil)
)

func NewValkeyQueue(client *valkey.Client, cfg config.QueueConfig) *ValkeyQueue {
	return &ValkeyQueue{
		client:        client,
		cfg:           cfg,
		pendingKey:    client.Key("queue", "outbound"),
		processingKey: client.Key("queue", "processing"),
		itemsKey:      client.Key("queue", "items"),
		deadKey:       client.Key("queue", "dead"),
	}
}

func (q *ValkeyQueue) inner() valkeylib.Client {
	return q.client.Inner()
}

// score orders by priority class first, FIFO (microsecond resolution) within
// a class. Recomputing it from created_at puts a released item back at the
// head of its class, not the tail.
func score(priority int, createdAt time.Time) float64 {
	return float64(-priority)*1e6 + float64(createdAt.UnixMicro())/1e6
}

func (q *ValkeyQueue) Enqueue(ctx context.Context, req domainQueue.EnqueueRequest) (string, error) {
	item := domainQueue.OutboundMessage{
		ID:         uuid.NewString(),
		ToNumber:   req.ToNumber,
		Content:    req.Content,
		FromNumber: req.FromNumber,
		MediaURL:   req.MediaURL,
		Priority:   req.Priority,
		CreatedAt:  time.Now().UTC(),
		MessageID:  req.MessageID,
		QuotedID:   req.QuotedID,
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue item: %w", err)
	}

	// Payload first, then visibility: a crash in between leaves an orphan
	// payload that the next pop cleans up, never a claimable id without data.
	cmds := []valkeylib.Completed{
		q.inner().B().Hset().Key(q.itemsKey).FieldValue().FieldValue(item.ID, string(payload)).Build(),
		q.inner().B().Zadd().Key(q.pendingKey).ScoreMember().
			ScoreMember(score(item.Priority, item.CreatedAt), item.ID).Build(),
	}
	for _, resp := range q.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return "", fmt.Errorf("failed to enqueue outbound item: %w", err)
		}
	}

	logrus.Debugf("[QUEUE] enqueued %s to=%s priority=%d", item.ID, item.ToNumber, item.Priority)
	return item.ID, nil
}

// PopNext claims the next pending item, or returns nil when the queue is
// empty.
func (q *ValkeyQueue) PopNext(ctx context.Context) (*domainQueue.OutboundMessage, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	cmd := q.inner().B().Eval().
		Script(popScript).
		Numkeys(3).
		Key(q.pendingKey, q.itemsKey, q.processingKey).
		Arg(now).
		Build()

	payload, err := q.inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop outbound item: %w", err)
	}

	var item domainQueue.OutboundMessage
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("failed to decode outbound item: %w", err)
	}
	return &item, nil
}

// Ack deletes a delivered item from the in-flight tables.
func (q *ValkeyQueue) Ack(ctx context.Context, id string) error {
	cmds := []valkeylib.Completed{
		q.inner().B().Zrem().Key(q.processingKey).Member(id).Build(),
		q.inner().B().Hdel().Key(q.itemsKey).Field(id).Build(),
	}
	for _, resp := range q.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to ack outbound item: %w", err)
		}
	}
	return nil
}

// UpdateItem rewrites the stored payload for an in-flight item so bumped
// attempt counts survive a crash during backoff.
func (q *ValkeyQueue) UpdateItem(ctx context.Context, item *domainQueue.OutboundMessage) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	cmd := q.inner().B().Hset().Key(q.itemsKey).FieldValue().
		FieldValue(item.ID, string(payload)).Build()
	if err := q.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to update outbound item: %w", err)
	}
	return nil
}

// MoveToDead retires an exhausted item into the dead-letter table.
func (q *ValkeyQueue) MoveToDead(ctx context.Context, item *domainQueue.OutboundMessage) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	cmds := []valkeylib.Completed{
		q.inner().B().Hset().Key(q.deadKey).FieldValue().FieldValue(item.ID, string(payload)).Build(),
		q.inner().B().Zrem().Key(q.processingKey).Member(item.ID).Build(),
		q.inner().B().Hdel().Key(q.itemsKey).Field(item.ID).Build(),
	}
	for _, resp := range q.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to dead-letter outbound item: %w", err)
		}
	}
	logrus.Errorf("[QUEUE] dead-lettered %s after %d attempts: %s", item.ID, item.Attempts, item.LastError)
	return nil
}

// Release puts an in-flight item back at the head of its priority class
// without touching its attempt count. Used on worker shutdown.
func (q *ValkeyQueue) Release(ctx context.Context, item *domainQueue.OutboundMessage) error {
	if err := q.UpdateItem(ctx, item); err != nil {
		return err
	}
	cmds := []valkeylib.Completed{
		q.inner().B().Zrem().Key(q.processingKey).Member(item.ID).Build(),
		q.inner().B().Zadd().Key(q.pendingKey).ScoreMember().
			ScoreMember(score(item.Priority, item.CreatedAt), item.ID).Build(),
	}
	for _, resp := range q.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to release outbound item: %w", err)
		}
	}
	logrus.Infof("[QUEUE] released %s back to pending", item.ID)
	return nil
}

// RecoverStale returns in-flight items older than the visibility timeout to
// the pending queue with a bumped attempt count. A claim whose payload went
// missing is dropped outright.
func (q *ValkeyQueue) RecoverStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.cfg.VisibilityTimeout).Unix()
	cmd := q.inner().B().Zrangebyscore().Key(q.processingKey).
		Min("-inf").Max(strconv.FormatInt(cutoff, 10)).Build()
	ids, err := q.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to scan stale items: %w", err)
	}

	var recovered int64
	for _, id := range ids {
		payload, err := q.inner().Do(ctx, q.inner().B().Hget().Key(q.itemsKey).Field(id).Build()).ToString()
		if err != nil {
			if valkey.IsNil(err) {
				q.inner().Do(ctx, q.inner().B().Zrem().Key(q.processingKey).Member(id).Build())
				logrus.Warnf("[QUEUE] dropped stale claim %s with no payload", id)
				continue
			}
			return recovered, fmt.Errorf("failed to load stale item %s: %w", id, err)
		}

		var item domainQueue.OutboundMessage
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			q.inner().Do(ctx, q.inner().B().Zrem().Key(q.processingKey).Member(id).Build())
			logrus.Warnf("[QUEUE] dropped stale claim %s with corrupt payload: %v", id, err)
			continue
		}

		item.Attempts++
		if err := q.Release(ctx, &item); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		logrus.Warnf("[QUEUE] recovered %d stale in-flight item(s)", recovered)
	}
	return recovered, nil
}

func (q *ValkeyQueue) Stats(ctx context.Context) (domainQueue.Stats, error) {
	cmds := []valkeylib.Completed{
		q.inner().B().Zcard().Key(q.pendingKey).Build(),
		q.inner().B().Zcard().Key(q.processingKey).Build(),
		q.inner().B().Hlen().Key(q.deadKey).Build(),
	}
	resps := q.inner().DoMulti(ctx, cmds...)

	var counts [3]int64
	for i, resp := range resps {
		n, err := resp.AsInt64()
		if err != nil {
			return domainQueue.Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
		}
		counts[i] = n
	}
	return domainQueue.Stats{Queued: counts[0], Processing: counts[1], Dead: counts[2]}, nil
}

func (q *ValkeyQueue) ClearDead(ctx context.Context) (int64, error) {
	count, err := q.inner().Do(ctx, q.inner().B().Hlen().Key(q.deadKey).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead items: %w", err)
	}
	if err := q.inner().Do(ctx, q.inner().B().Del().Key(q.deadKey).Build()).Error(); err != nil {
		return 0, fmt.Errorf("failed to clear dead items: %w", err)
	}
	logrus.Infof("[QUEUE] cleared %d dead item(s)", count)
	return count, nil
}

// RequeueDead returns every dead-letter item to the pending queue with a
// fresh attempt budget.
func (q *ValkeyQueue) RequeueDead(ctx context.Context) (int64, error) {
	entries, err := q.inner().Do(ctx, q.inner().B().Hgetall().Key(q.deadKey).Build()).AsStrMap()
	if err != nil {
		return 0, fmt.Errorf("failed to load dead items: %w", err)
	}

	var requeued int64
	for id, payload := range entries {
		var item domainQueue.OutboundMessage
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			logrus.Warnf("[QUEUE] skipping corrupt dead item %s: %v", id, err)
			continue
		}
		item.Attempts = 0
		item.LastError = ""

		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		cmds := []valkeylib.Completed{
			q.inner().B().Hset().Key(q.itemsKey).FieldValue().FieldValue(item.ID, string(data)).Build(),
			q.inner().B().Zadd().Key(q.pendingKey).ScoreMember().
				ScoreMember(score(item.Priority, item.CreatedAt), item.ID).Build(),
			q.inner().B().Hdel().Key(q.deadKey).Field(item.ID).Build(),
		}
		for _, resp := range q.inner().DoMulti(ctx, cmds...) {
			if err := resp.Error(); err != nil {
				return requeued, fmt.Errorf("failed to requeue dead item %s: %w", id, err)
			}
		}
		requeued++
	}

	if requeued > 0 {
		logrus.Infof("[QUEUE] requeued %d dead item(s)", requeued)
	}
	return requeued, nil
}
