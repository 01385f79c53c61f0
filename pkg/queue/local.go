package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	applogger "MTFTrader/pkg/logger"
)

// LocalQueue is an in-process bounded executor with the same retry contract
// as RedisQueue. Messages do not survive a restart.
type LocalQueue struct {
	logger *applogger.Logger
	config *QueueConfig

	mu        sync.RWMutex
	jobs      map[string]Job
	isRunning bool
	msgs      chan Message
	dead      []Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLocalQueue(lgr *applogger.Logger, config *QueueConfig) *LocalQueue {
	cfg := config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		logger: lgr,
		config: cfg,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *LocalQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", applogger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *LocalQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("local queue started", applogger.Int("workers", q.config.Workers))
	return nil
}

func (q *LocalQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// Enqueue fails fast with ErrQueueFull instead of blocking the caller.
func (q *LocalQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	running := q.isRunning
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	return q.push(msg)
}

// DeadLetters returns messages that exhausted their retries.
func (q *LocalQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *LocalQueue) push(msg Message) error {
	select {
	case q.msgs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *LocalQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.process(msg)
		}
	}
}

func (q *LocalQueue) process(msg Message) {
	q.mu.RLock()
	job := q.jobs[msg.Type]
	q.mu.RUnlock()

	err := handle(q.ctx, job, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	q.logger.Error("message processing error",
		applogger.String("id", msg.ID),
		applogger.String("job", job.Name()),
		applogger.Int("attempt", msg.Attempts+1),
		applogger.Error(err))

	if msg.Attempts >= q.config.RetryLimit {
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		return
	}

	msg.Attempts++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(q.config.RetryDelay)
		defer t.Stop()
		select {
		case <-q.ctx.Done():
		case <-t.C:
			if err := q.push(msg); err != nil {
				q.logger.Warn("retry dropped", applogger.String("id", msg.ID), applogger.Error(err))
			}
		}
	}()
}
