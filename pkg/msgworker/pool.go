package msgworker

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// AgentJob representa un job de procesamiento de mensaje entrante. Los jobs
// del mismo usuario siempre caen en el mismo worker, asi se preserva el
// orden por usuario.
type AgentJob struct {
	UserID    int64
	MessageID int64
	Handler   func(ctx context.Context) error
}

// PoolStats contiene métricas en tiempo real del worker pool
type PoolStats struct {
	NumWorkers      int            `json:"num_workers"`
	QueueSize       int            `json:"queue_size"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalDispatched int64          `json:"total_dispatched"`
	TotalProcessed  int64          `json:"total_processed"`
	TotalDropped    int64          `json:"total_dropped"`
	TotalErrors     int64          `json:"total_errors"`
	WorkerStats     []WorkerStats  `json:"worker_stats"`
	ActiveUsers     map[string]int `json:"active_users"` // user_id -> worker_id
}

// WorkerStats contiene métricas por worker individual
type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

type activeUserEntry struct {
	workerID  int
	updatedAt time.Time
}

// AgentWorkerPool maneja un pool de workers para los jobs del agente
type AgentWorkerPool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	stopCh     chan struct{}

	// Métricas
	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	activeUsersMu   sync.RWMutex
	activeUsers     map[string]activeUserEntry
	startTime       time.Time

	// Hooks para monitoreo externo
	OnWorkerStart func(workerID int, userKey string)
	OnWorkerEnd   func(workerID int, userKey string)
}

// worker representa un worker individual con su cola
type worker struct {
	id            int
	jobQueue      chan AgentJob
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32 // atomic: 1 if processing, 0 if idle
	jobsProcessed int64 // atomic counter
	pool          *AgentWorkerPool
}

// NewAgentWorkerPool crea un nuevo pool de workers para jobs del agente
func NewAgentWorkerPool(numWorkers, queueSize int) *AgentWorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	pool := &AgentWorkerPool{
		numWorkers:  numWorkers,
		queueSize:   queueSize,
		workers:     make([]*worker, numWorkers),
		activeUsers: make(map[string]activeUserEntry),
		stopCh:      make(chan struct{}),
		startTime:   time.Now(),
	}

	return pool
}

// Start inicia todos los workers del pool
func (p *AgentWorkerPool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				now := time.Now()
				p.activeUsersMu.Lock()
				for k, v := range p.activeUsers {
					if !v.updatedAt.IsZero() && now.Sub(v.updatedAt) > 2*time.Second {
						delete(p.activeUsers, k)
					}
				}
				p.activeUsersMu.Unlock()
			}
		}
	}()

	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			jobQueue: make(chan AgentJob, p.queueSize),
			ctx:      workerCtx,
			cancel:   cancel,
			pool:     p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[AGENT_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch envía un job al worker correspondiente (no bloqueante) y
// retorna si el job pudo encolarse. Útil para aplicar backpressure: un job
// descartado lo repesca la reconciliación de arranque.
func (p *AgentWorkerPool) TryDispatch(job AgentJob) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardForUser(job.UserID)
	atomic.AddInt64(&p.totalDispatched, 1)

	userKey := strconv.FormatInt(job.UserID, 10)
	p.activeUsersMu.Lock()
	p.activeUsers[userKey] = activeUserEntry{workerID: shard, updatedAt: time.Now()}
	p.activeUsersMu.Unlock()

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobQueue <- job:
			return true
		default:
			return false
		}
	}()

	if sent {
		return true
	}
	p.activeUsersMu.Lock()
	delete(p.activeUsers, userKey)
	p.activeUsersMu.Unlock()

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[AGENT_POOL] Worker %d queue full (or stopped), dropping job for user %d msg %d",
		shard, job.UserID, job.MessageID)
	return false
}

// Dispatch envía un job al worker apropiado (no bloqueante)
func (p *AgentWorkerPool) Dispatch(job AgentJob) {
	_ = p.TryDispatch(job)
}

// Stop detiene el pool de forma graceful
func (p *AgentWorkerPool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.stopCh)
		logrus.Info("[AGENT_POOL] Stopping workers...")

		// Cancelar contextos y cerrar colas
		for _, w := range p.workers {
			w.cancel()
			close(w.jobQueue)
		}

		// Esperar a que terminen los workers
		p.wg.Wait()

		logrus.Info("[AGENT_POOL] All workers stopped")
	})
}

// shardForUser calcula el worker para un usuario usando hash consistente
func (p *AgentWorkerPool) shardForUser(userID int64) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % uint32(p.numWorkers))
}

// GetStats retorna estadísticas en tiempo real del pool
func (p *AgentWorkerPool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	activeWorkers := 0

	for i, w := range p.workers {
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}

		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}

	now := time.Now()
	p.activeUsersMu.Lock()
	activeUsersSnapshot := make(map[string]int, len(p.activeUsers))
	for k, v := range p.activeUsers {
		if !v.updatedAt.IsZero() && now.Sub(v.updatedAt) > 2*time.Second {
			delete(p.activeUsers, k)
			continue
		}
		activeUsersSnapshot[k] = v.workerID
	}
	p.activeUsersMu.Unlock()

	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
		ActiveUsers:     activeUsersSnapshot,
	}
}

// run ejecuta el loop principal del worker
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[AGENT_POOL] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				// Canal cerrado, terminar
				logrus.Debugf("[AGENT_POOL] Worker %d shutting down", w.id)
				return
			}

			// Procesar job con defer para garantizar limpieza
			func() {
				userKey := strconv.FormatInt(job.UserID, 10)

				if w.pool.OnWorkerStart != nil {
					w.pool.OnWorkerStart(w.id, userKey)
				}
				atomic.StoreInt32(&w.isProcessing, 1)
				defer func() {
					if r := recover(); r != nil {
						atomic.AddInt64(&w.pool.totalErrors, 1)
						logrus.Errorf("[AGENT_POOL] Worker %d panic for user %s: %v", w.id, userKey, r)
					}
					if w.pool.OnWorkerEnd != nil {
						w.pool.OnWorkerEnd(w.id, userKey)
					}
					atomic.StoreInt32(&w.isProcessing, 0)
					atomic.AddInt64(&w.jobsProcessed, 1)
					atomic.AddInt64(&w.pool.totalProcessed, 1)
				}()

				err := job.Handler(w.ctx)

				if err != nil {
					atomic.AddInt64(&w.pool.totalErrors, 1)
					logrus.WithError(err).Errorf("[AGENT_POOL] Worker %d job failed for user %d msg %d",
						w.id, job.UserID, job.MessageID)
				}
			}()

		case <-w.ctx.Done():
			// Contexto cancelado, procesar jobs restantes antes de terminar
			logrus.Debugf("[AGENT_POOL] Worker %d context cancelled, draining queue...", w.id)
			w.drainQueue()
			return
		}
	}
}

// drainQueue procesa jobs pendientes antes del shutdown
func (w *worker) drainQueue() {
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			// Procesar job restante
			func() {
				defer func() {
					if r := recover(); r != nil {
						atomic.AddInt64(&w.pool.totalErrors, 1)
						logrus.Errorf("[AGENT_POOL] Worker %d drain panic: %v", w.id, r)
					}
				}()
				if err := job.Handler(w.ctx); err != nil {
					logrus.WithError(err).Errorf("[AGENT_POOL] Worker %d drain job failed", w.id)
				}
			}()
		default:
			// No hay más jobs
			return
		}
	}
}
