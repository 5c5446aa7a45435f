package queue

import (
	"sync"

	"github.com/rs/zerolog"
)

// Job is one unit of work. Errc, when non-nil, receives the result so a
// caller can wait; webhook processing enqueues with a nil Errc and moves on,
// which is how the 200 ack stays decoupled from ingestion.
type Job struct {
	Fn   func() error
	Errc chan error
}

type Manager struct {
	JobQueue   chan Job
	MaxWorkers int
	log        zerolog.Logger
	wg         sync.WaitGroup
}

func NewManager(queueSize, maxWorkers int, log zerolog.Logger) *Manager {
	m := &Manager{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		log:        log,
	}
	m.startWorkers()
	return m
}

func (m *Manager) startWorkers() {
	for i := 0; i < m.MaxWorkers; i++ {
		m.wg.Add(1)
		go func(workerID int) {
			defer m.wg.Done()
			for job := range m.JobQueue {
				err := job.Fn()
				if job.Errc != nil {
					job.Errc <- err
				} else if err != nil {
					// Fire-and-forget jobs have nowhere to report; one
					// failed event must not block the rest.
					m.log.Error().Err(err).Int("worker", workerID).Msg("background job failed")
				}
			}
		}(i)
	}
}

func (m *Manager) EnqueueJob(job Job) {
	m.JobQueue <- job
}

func (m *Manager) Shutdown() {
	close(m.JobQueue)
	m.wg.Wait()
}
