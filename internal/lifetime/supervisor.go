// Package lifetime keeps the process alive until every registered task has
// settled. Request handlers call Extend for the duration of a request;
// fire-and-forget work (dynamic cache writes, the losing side of a race,
// lifecycle events) is started with WaitUntil so shutdown can drain it
// instead of dropping a half-finished fetch or write.
package lifetime

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// ErrClosed 表示 Drain 已开始且没有进行中的请求或任务，不再接受新的后台任务。
var ErrClosed = errors.New("supervisor closed")

// Supervisor 跟踪进行中的请求与后台任务。
type Supervisor struct {
	logger *logrus.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	tasks    *counter // 仅后台任务
	inflight *counter // 后台任务 + 请求
}

// New 构造 Supervisor；后台任务使用独立于请求的 context，只在 Drain 结束后被取消。
func New(logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:   logger,
		base:     base,
		cancel:   cancel,
		tasks:    newCounter(),
		inflight: newCounter(),
	}
}

// WaitUntil 登记一个分离的后台任务，任务返回的错误与 panic 都只记录日志。
// Drain 开始后，只要仍有请求或任务在进行，它们派生的任务照常登记，Drain 会一并等待。
func (s *Supervisor) WaitUntil(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.closed {
		if !s.inflight.join() {
			s.mu.Unlock()
			return ErrClosed
		}
	} else {
		s.inflight.add()
	}
	s.tasks.add()
	s.mu.Unlock()

	go func() {
		defer s.inflight.done()
		defer s.tasks.done()

		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() { err = fn(s.base) })
		if recovered := catcher.Recovered(); recovered != nil {
			s.logger.WithError(recovered.AsError()).WithFields(logrus.Fields{
				"action": "background_task",
				"task":   name,
			}).Error("background_task_panic")
			return
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "background_task",
				"task":   name,
			}).Warn("background_task_failed")
		}
	}()
	return nil
}

// Extend 登记一个进行中的请求，返回的 release 可重复调用，只生效一次。
func (s *Supervisor) Extend() (release func()) {
	s.inflight.add()
	var once sync.Once
	return func() {
		once.Do(s.inflight.done)
	}
}

// Settle 等待当前所有后台任务（包括它们派生的任务）结束，但不关闭 Supervisor。
func (s *Supervisor) Settle() {
	<-s.tasks.idle()
}

// Pending 返回尚未结束的后台任务数。
func (s *Supervisor) Pending() int {
	return s.tasks.value()
}

// Drain 拒绝新任务并等待请求与后台任务全部结束；ctx 到期时返回 ctx.Err()。
// 两种情况下后台 context 都会被取消。
func (s *Supervisor) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	defer s.cancel()

	select {
	case <-s.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// counter 是可重复归零的计数器；idle 返回的 channel 在计数归零时关闭。
type counter struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func newCounter() *counter {
	c := &counter{zero: make(chan struct{})}
	close(c.zero)
	return c
}

func (c *counter) add() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		c.zero = make(chan struct{})
	}
	c.n++
}

// join 仅在计数非零时加一；计数已归零说明等待方可能已经返回。
func (c *counter) join() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return false
	}
	c.n++
	return true
}

func (c *counter) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n--
	if c.n == 0 {
		close(c.zero)
	}
}

func (c *counter) idle() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zero
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
