package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zapa-ai/zapa/core/config"
	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
)

// DeliveryRecorder persists send outcomes onto stored message rows.
type DeliveryRecorder interface {
	SetExternalID(ctx context.Context, messageID int64, externalID string) error
	SetDeliveryStatusByID(ctx context.Context, messageID int64, status domainMessage.DeliveryStatus, detail string) error
}

// Store is the worker-side view of the queue backend.
type Store interface {
	PopNext(ctx context.Context) (*domainQueue.OutboundMessage, error)
	Ack(ctx context.Context, id string) error
	UpdateItem(ctx context.Context, item *domainQueue.OutboundMessage) error
	MoveToDead(ctx context.Context, item *domainQueue.OutboundMessage) error
	Release(ctx context.Context, item *domainQueue.OutboundMessage) error
	RecoverStale(ctx context.Context) (int64, error)
}

// SendWorkerPool drains the outbound queue through the bridge. Retries are
// in-place with a linear backoff (delay * attempts); exhausted items go to
// the dead-letter table.
type SendWorkerPool struct {
	queue     Store
	bridge    domainBridge.IBridgeClient
	delivery  DeliveryRecorder
	cfg       config.QueueConfig
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSendWorkerPool(q Store, bridge domainBridge.IBridgeClient, delivery DeliveryRecorder, cfg config.QueueConfig, sessionID string) *SendWorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &SendWorkerPool{
		queue:     q,
		bridge:    bridge,
		delivery:  delivery,
		cfg:       cfg,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *SendWorkerPool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.wg.Add(1)
	go p.janitor()
	logrus.Infof("[QUEUE] started %d send worker(s), poll=%v visibility=%v",
		p.cfg.Workers, p.cfg.PollInterval, p.cfg.VisibilityTimeout)
}

// Stop cancels the workers and waits for each to release or finish its
// current item.
func (p *SendWorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	logrus.Info("[QUEUE] send workers stopped")
}

func (p *SendWorkerPool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		item, err := p.queue.PopNext(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			logrus.Errorf("[QUEUE] worker %d pop failed: %v", workerID, err)
			p.sleep(p.cfg.PollInterval)
			continue
		}
		if item == nil {
			p.sleep(p.cfg.PollInterval)
			continue
		}
		p.process(workerID, item)
	}
}

func (p *SendWorkerPool) process(workerID int, item *domainQueue.OutboundMessage) {
	for {
		res, err := p.bridge.SendText(p.ctx, p.sessionID, item.ToNumber, item.Content, item.QuotedID)
		if err == nil {
			p.recordSent(item, res)
			if ackErr := p.queue.Ack(context.Background(), item.ID); ackErr != nil {
				logrus.Errorf("[QUEUE] worker %d ack failed for %s: %v", workerID, item.ID, ackErr)
			}
			logrus.Infof("[QUEUE] sent %s to=%s attempts=%d", item.ID, item.ToNumber, item.Attempts+1)
			return
		}

		// Shutdown mid-attempt: hand the item back untouched so a restart
		// resumes at the head of its priority class.
		if p.ctx.Err() != nil {
			if relErr := p.queue.Release(context.Background(), item); relErr != nil {
				logrus.Errorf("[QUEUE] failed to release %s on shutdown: %v", item.ID, relErr)
			}
			return
		}

		item.Attempts++
		item.LastError = err.Error()

		if item.Attempts >= p.cfg.MaxRetries {
			if deadErr := p.queue.MoveToDead(context.Background(), item); deadErr != nil {
				logrus.Errorf("[QUEUE] failed to dead-letter %s: %v", item.ID, deadErr)
			}
			p.recordFailed(item)
			return
		}

		if upErr := p.queue.UpdateItem(p.ctx, item); upErr != nil {
			logrus.Warnf("[QUEUE] failed to persist attempt count for %s: %v", item.ID, upErr)
		}

		delay := p.cfg.RetryDelay * time.Duration(item.Attempts)
		logrus.Warnf("[QUEUE] send %s failed (attempt %d/%d), retrying in %v: %v",
			item.ID, item.Attempts, p.cfg.MaxRetries, delay, err)

		select {
		case <-p.ctx.Done():
			if relErr := p.queue.Release(context.Background(), item); relErr != nil {
				logrus.Errorf("[QUEUE] failed to release %s on shutdown: %v", item.ID, relErr)
			}
			return
		case <-time.After(delay):
		}
	}
}

// recordSent backfills the bridge's message id onto the stored OUTGOING row
// so later delivery webhooks can correlate.
func (p *SendWorkerPool) recordSent(item *domainQueue.OutboundMessage, res domainBridge.SendResult) {
	if item.MessageID == 0 || res.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.delivery.SetExternalID(ctx, item.MessageID, res.MessageID); err != nil {
		logrus.Warnf("[QUEUE] external id backfill failed for row %d: %v", item.MessageID, err)
	}
}

func (p *SendWorkerPool) recordFailed(item *domainQueue.OutboundMessage) {
	if item.MessageID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.delivery.SetDeliveryStatusByID(ctx, item.MessageID, domainMessage.DeliveryFailed, item.LastError); err != nil {
		logrus.Warnf("[QUEUE] failed-status update failed for row %d: %v", item.MessageID, err)
	}
}

// janitor periodically returns stale in-flight claims to the queue, bounding
// how long a crashed worker can strand an item.
func (p *SendWorkerPool) janitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.VisibilityTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RecoverStale(p.ctx); err != nil && p.ctx.Err() == nil {
				logrus.Errorf("[QUEUE] stale recovery failed: %v", err)
			}
		}
	}
}

func (p *SendWorkerPool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
