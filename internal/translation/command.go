package translation

import (
	"context"
	"errors"
	"sync"
)

var errRunnerClosed = errors.New("translation: command worker closed")

// Future 异步命令的结果句柄
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done 命令完成时关闭
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait 等待命令完成；ctx 取消只结束等待，不取消命令
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// commandRunner 管线专属的命令执行 goroutine
type commandRunner struct {
	tasks     chan func()
	stopped   chan struct{}
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newCommandRunner() *commandRunner {
	r := &commandRunner{
		tasks:   make(chan func(), 4),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *commandRunner) loop() {
	defer close(r.stopped)
	for task := range r.tasks {
		task()
	}
}

// submit 不阻塞调用方；会话层保证同一时刻最多一个未完成命令
func (r *commandRunner) submit(task func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRunnerClosed
	}
	select {
	case r.tasks <- task:
		return nil
	default:
		return ErrCommandPending
	}
}

// close 停止接收命令并等待已提交的命令执行完
func (r *commandRunner) close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.tasks)
		r.mu.Unlock()
	})
	<-r.stopped
}
