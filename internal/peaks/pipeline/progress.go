package pipeline

import (
	"sync"
	"sync/atomic"
)

// ProgressFunc receives coarse progress updates. It is called from a
// single reporting goroutine, never from a worker.
type ProgressFunc func(completed, total int64, message string)

type progressUpdate struct {
	completed int64
	message   string
}

// progress counts completed tasks and forwards updates to a ProgressFunc
// without ever blocking the caller of done. Updates are dropped when the
// reporter falls behind; the final count is always delivered.
type progress struct {
	total     int64
	completed atomic.Int64
	fn        ProgressFunc
	updates   chan progressUpdate
	wg        sync.WaitGroup
}

func newProgress(total int64, fn ProgressFunc) *progress {
	p := &progress{total: total, fn: fn}
	if fn == nil {
		return p
	}
	p.updates = make(chan progressUpdate, 64)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var last int64 = -1
		var msg string
		for u := range p.updates {
			if u.completed > last {
				last, msg = u.completed, u.message
				p.fn(u.completed, p.total, u.message)
			}
		}
		if final := p.completed.Load(); final > last {
			p.fn(final, p.total, msg)
		}
	}()
	return p
}

// done records one finished task.
func (p *progress) done(message string) {
	n := p.completed.Add(1)
	if p.updates == nil {
		return
	}
	select {
	case p.updates <- progressUpdate{completed: n, message: message}:
	default:
	}
}

// close flushes the reporter. It must be called after every done call
// has returned.
func (p *progress) close() {
	if p.updates == nil {
		return
	}
	close(p.updates)
	p.wg.Wait()
}
