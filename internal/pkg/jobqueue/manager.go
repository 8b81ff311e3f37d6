package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Claimer hands out due tasks. RedisScheduler implements it.
type Claimer interface {
	ClaimDue(ctx context.Context, limit int) ([]Task, error)
}

// Sweeper runs one retention pass.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Manager polls the deferred task store, runs due tasks on a bounded worker
// pool and triggers the retention sweeper.
type Manager struct {
	claimer        Claimer
	sweeper        Sweeper
	settings       Settings
	handlers       map[string]TaskHandler
	workerPool     chan struct{}
	pollTicker     *time.Ticker
	retentionTimer *time.Ticker
	stopCh         chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	tasks          sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// NewManager creates a stopped manager. sweeper may be nil.
func NewManager(claimer Claimer, sweeper Sweeper, settings Settings) *Manager {
	workers := settings.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Manager{
		claimer:    claimer,
		sweeper:    sweeper,
		settings:   settings,
		handlers:   map[string]TaskHandler{},
		workerPool: make(chan struct{}, workers),
	}
}

// Register binds a handler to a task name. Call before Start.
func (m *Manager) Register(name string, handler TaskHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = handler
}

// Start starts the poll and retention workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true
	log.Info("[JobQueue Manager] Starting dispatch poller and background tasks")

	m.pollTicker = time.NewTicker(m.settings.PollInterval)
	m.wg.Add(1)
	go m.pollWorker(m.stopCh, m.pollTicker)

	if m.sweeper != nil {
		m.retentionTimer = time.NewTicker(m.settings.RetentionSweepInterval)
		m.wg.Add(1)
		go m.retentionWorker(m.stopCh, m.retentionTimer)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the workers and waits for running tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping dispatch poller and background tasks...")

	if m.pollTicker != nil {
		m.pollTicker.Stop()
	}
	if m.retentionTimer != nil {
		m.retentionTimer.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	m.tasks.Wait()
	m.cancel()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) pollWorker(stopCh chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started poll worker (interval: %s)", m.settings.PollInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Poll worker stopping")
			return
		case <-ticker.C:
			if _, err := m.PollOnce(m.ctx); err != nil {
				log.Errorf("[JobQueue Manager] Poll error: %v", err)
			}
		}
	}
}

func (m *Manager) retentionWorker(stopCh chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started retention worker (interval: %s)", m.settings.RetentionSweepInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Retention worker stopping")
			return
		case <-ticker.C:
			if err := m.sweeper.Sweep(m.ctx); err != nil {
				log.Errorf("[JobQueue Manager] Retention sweep error: %v", err)
			}
		}
	}
}

// PollOnce claims one batch of due tasks and runs them, waiting for the
// batch to finish. It returns the number of tasks started.
func (m *Manager) PollOnce(ctx context.Context) (int, error) {
	tasks, err := m.claimer.ClaimDue(ctx, m.settings.BatchSize)
	if err != nil && len(tasks) == 0 {
		return 0, err
	}

	var batch sync.WaitGroup
	for _, task := range tasks {
		m.mu.Lock()
		handler, ok := m.handlers[task.Name]
		m.mu.Unlock()
		if !ok {
			log.Warnf("[JobQueue Manager] No handler for task %s, dropping", task.Key())
			continue
		}

		m.workerPool <- struct{}{}
		batch.Add(1)
		m.tasks.Add(1)
		go func(task Task) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("[JobQueue Manager] Task %s panicked: %v", task.Key(), r)
				}
				<-m.workerPool
				m.tasks.Done()
				batch.Done()
			}()
			if herr := handler(ctx, task); herr != nil {
				log.Errorf("[JobQueue Manager] Task %s failed: %v", task.Key(), herr)
			}
		}(task)
	}
	batch.Wait()
	return len(tasks), err
}
