package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy is returned when the inbound job queue is full.
var ErrDispatcherBusy = errors.New("dispatcher queue is full")

type chatQueue struct {
	jobs    []Job
	running bool // a job of this chat is currently on a worker
	ready   bool // chat id is in the ready list
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

// Dispatcher fans queued turn jobs out to the worker pool. One chat never has
// two jobs on workers at once, so rapid sends to the same chat replay their
// streams in submission order while different chats proceed in parallel.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*chatQueue // job queue for each chat
	ready     *list.List            // round-robin queue storing chat IDs
	positions map[string]*list.Element

	kick chan struct{}
	stop chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout)

	d := &Dispatcher{
		queues:    make(map[string]*chatQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, queueSize),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	// Warm up workers so the first send does not pay spawn latency.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Enqueue hands a job to the dispatcher without blocking the caller.
func (d *Dispatcher) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("job without Run")
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.kick:
			case <-d.stop:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.stop:
			return
		default:
		}
	}
}

// CancelChat drops queued jobs for a chat, typically after the chat was
// deleted. The job already running, if any, is not interrupted here; stream
// cancellation is the sender's concern.
func (d *Dispatcher) CancelChat(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[chatID]
	if q == nil {
		return
	}
	q.jobs = nil
	if elem, ok := d.positions[chatID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, chatID)
		q.ready = false
	}
	if !q.running {
		delete(d.queues, chatID)
	}
}

// Stop shuts the run loop and the worker pool down. Queued jobs are dropped.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.pool.stopAll()
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.ChatID]
	if q == nil {
		q = &chatQueue{}
		d.queues[job.ChatID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.running || q.ready {
		// chat already scheduled, its next job waits for the current one
		return
	}
	q.ready = true
	d.positions[job.ChatID] = d.ready.PushBack(job.ChatID)
}

// dispatchOne hands the next ready chat's front job to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	chatID := elem.Value.(string)
	d.ready.Remove(elem)
	delete(d.positions, chatID)

	q := d.queues[chatID]
	if q == nil || len(q.jobs) == 0 {
		if q != nil {
			q.ready = false
			if !q.running {
				delete(d.queues, chatID)
			}
		}
		d.mu.Unlock()
		return true
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.ready = false
	q.running = true
	d.mu.Unlock()

	job.done = func() { d.jobDone(chatID) }

	ch := d.pool.acquire()
	if ch == nil {
		// pool shut down, drop the job
		d.jobDone(chatID)
		return false
	}
	select {
	case ch <- job:
	case <-d.stop:
		d.jobDone(chatID)
		return false
	}
	return true
}

func (d *Dispatcher) jobDone(chatID string) {
	d.mu.Lock()
	q := d.queues[chatID]
	if q == nil {
		d.mu.Unlock()
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		if !q.ready {
			delete(d.queues, chatID)
		}
		d.mu.Unlock()
		return
	}
	if !q.ready {
		q.ready = true
		d.positions[chatID] = d.ready.PushBack(chatID)
	}
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}
