// Package frontier holds the worklist of one site crawl and the URL claim set
// shared by every crawl of a session.
package frontier

import (
	"context"
	"sync"
)

// Claims is a concurrent set of URLs. A URL is processed only by the caller
// that claimed it first.
type Claims struct {
	seen sync.Map
}

func NewClaims() *Claims {
	return &Claims{}
}

// Claim adds url to the set and reports whether it was absent.
func (c *Claims) Claim(url string) bool {
	_, loaded := c.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Frontier is a FIFO worklist with in-flight accounting. The crawl of a site
// is complete when the queue is empty and no task is in flight.
type Frontier struct {
	claims   *Claims
	queue    []string
	inflight int
	mu       sync.Mutex
	cond     *sync.Cond
}

func New(claims *Claims) *Frontier {
	f := &Frontier{claims: claims}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push claims url and enqueues it. It returns false when url was already
// claimed, by this frontier or by another crawl of the session.
func (f *Frontier) Push(url string) bool {
	if !f.claims.Claim(url) {
		return false
	}

	f.mu.Lock()
	f.queue = append(f.queue, url)
	f.mu.Unlock()
	f.cond.Signal()
	return true
}

// Next blocks until a URL is available and marks it in flight. It returns
// false once the frontier is drained or ctx is done. Every URL returned must
// be released with Done.
func (f *Frontier) Next(ctx context.Context) (string, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cond.Broadcast()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.queue) == 0 && f.inflight > 0 && ctx.Err() == nil {
		f.cond.Wait()
	}
	if ctx.Err() != nil || len(f.queue) == 0 {
		return "", false
	}

	url := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	f.inflight++
	return url, true
}

// Done marks one URL returned by Next as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	f.inflight--
	drained := f.inflight == 0 && len(f.queue) == 0
	f.mu.Unlock()

	if drained {
		f.cond.Broadcast()
	}
}

// Size is the number of queued URLs not yet handed to a worker.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// IsEmpty reports whether no URL is queued or being processed.
func (f *Frontier) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) == 0 && f.inflight == 0
}
