// Package scheduler runs periodic and delayed work on a single goroutine.
//
// Timers, tickers and the cron engine never run work themselves; they post
// it onto the loop, so everything registered with a Loop executes serially
// on the goroutine that called Run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	cron "github.com/robfig/cron/v3"
)

// ErrStopped is returned when work is handed to a Loop whose Run returned.
var ErrStopped = errors.New("scheduler: loop stopped")

const queueSize = 64

// Loop is a cooperative single goroutine scheduler.
type Loop struct {
	log   golog.Logger
	queue chan func()
	cron  *cron.Cron

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	tickers []*job
}

// New returns a Loop. Work can be registered before or after Run is called.
func New(logger golog.Logger) *Loop {
	if logger == nil {
		logger = golog.NewLogger("scheduler")
	}
	return &Loop{
		log:   logger,
		queue: make(chan func(), queueSize),
		cron:  cron.New(cron.WithLogger(cronLogger{logger})),
		done:  make(chan struct{}),
	}
}

// job is a named periodic task. At most one run of it is queued at a time:
// ticks that arrive while a run is still waiting for the loop are dropped.
type job struct {
	loop   *Loop
	name   string
	every  time.Duration
	fn     func()
	queued atomic.Bool
}

// Run implements cron.Job.
func (j *job) Run() {
	if !j.queued.CompareAndSwap(false, true) {
		j.loop.log.Debugf("%s still queued, skipping", j.name)
		return
	}
	// Ticks never wait for room in the queue; a busy loop drops them.
	if !j.loop.tryPost(func() {
		j.queued.Store(false)
		j.fn()
	}) {
		j.queued.Store(false)
		j.loop.log.Warnf("Loop busy, dropping %s tick", j.name)
	}
}

func (j *job) tick() {
	defer j.loop.wg.Done()
	t := time.NewTicker(j.every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			j.Run()
		case <-j.loop.done:
			return
		}
	}
}

// Post queues fn to run on the loop, waiting for room in the queue. It
// reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	return l.post(context.Background(), fn) == nil
}

func (l *Loop) post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPost queues fn only if there is room right away.
func (l *Loop) tryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// SetTimeout runs fn on the loop once after delay. Timeouts cannot be
// cancelled; name only labels log output.
func (l *Loop) SetTimeout(name string, delay time.Duration, fn func()) {
	l.log.Debugf("Timeout %q in %v", name, delay)
	time.AfterFunc(delay, func() {
		if !l.Post(fn) {
			l.log.Debugf("Dropping timeout %q, loop stopped", name)
		}
	})
}

// Every runs fn on the loop every d.
func (l *Loop) Every(name string, d time.Duration, fn func()) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: %s: invalid interval %v", name, d)
	}
	j := &job{loop: l, name: name, every: d, fn: fn}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickers = append(l.tickers, j)
	if l.started {
		l.wg.Add(1)
		go j.tick()
	}
	return nil
}

// Cron runs fn on the loop according to spec, in the standard cron format or
// one of the descriptors understood by github.com/robfig/cron/v3.
func (l *Loop) Cron(name, spec string, fn func()) error {
	if _, err := l.cron.AddJob(spec, &job{loop: l, name: name, fn: fn}); err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	l.log.Infof("Scheduled %s with spec %q", name, spec)
	return nil
}

// Call runs fn on the loop and waits for it to return. It gives up when ctx
// is done, whether fn is still queued or running; fn may run later.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued work until ctx is done. A Loop can only be run once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("scheduler: loop already started")
	}
	l.started = true
	for _, j := range l.tickers {
		l.wg.Add(1)
		go j.tick()
	}
	l.mu.Unlock()

	l.cron.Start()
	defer func() {
		// Close done first so nothing blocked posting keeps cron from stopping.
		l.stopOnce.Do(func() { close(l.done) })
		<-l.cron.Stop().Done()
		l.wg.Wait()
	}()

	for {
		select {
		case fn := <-l.queue:
			l.run(fn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("Recovered from panic in scheduled work: %v", r)
		}
	}()
	fn()
}

// cronLogger routes cron's own logging through golog.
type cronLogger struct {
	log golog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
