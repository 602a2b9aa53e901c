package worker

// Job is one queued agent turn bound to the chat it was sent from. Jobs for
// the same chat run strictly in submission order; jobs for different chats
// may run in parallel.
type Job struct {
	ChatID string
	Run    func()

	done func()
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
	quit       chan struct{}
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				job.Run()
				if job.done != nil {
					job.done()
				}
			case <-w.quit:
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.quit)
}
