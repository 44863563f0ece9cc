package wire

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction processes one queued task (a net.Conn, here); any
// error it returns kills the whole pool via the tomb.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed-size pool of tomb-supervised goroutines
// draining a single task channel, exactly the teacher's
// internal/worker.go shape (package server there, generalized here to
// accept any connection-handling WorkerFunction).
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{tasks: make(chan any, taskChanSize), n: size}
}

func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup keeps the pool topped up at n active workers until the tomb
// dies, respawning a worker whenever one returns without error.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("worker pool starting")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < pool.n {
				t.Go(func() error {
					err := pool.worker(t, work)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("worker pool: task handler returned fatal error")
			return err
		}
	}
	return nil
}
