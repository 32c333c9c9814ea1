package framework

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultLoopInterval is used when Loop.Interval is zero.
const DefaultLoopInterval = 100 * time.Millisecond

// Loop runs Controllers by priority level, once per Interval or when
// triggered, and the Runnables feeding it messages.
type Loop struct {
	Interval time.Duration

	levels  [PriorityLevels]level
	runners []Runnable

	mu      sync.Mutex
	pending []Message

	wakeUp chan struct{}
}

// LoopAdder is implemented by components that install themselves into
// a Loop, usually as a Controller plus a Runnable.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type level struct {
	mu          sync.Mutex
	preHooks    []Controller
	controllers []Controller
	postHooks   []Controller
}

type ctxKey struct{}

// LoopCtlFrom extracts LoopControl from the context passed to Runnables
// and controllers of a Loop.
func LoopCtlFrom(ctx context.Context) LoopControl {
	return ctx.Value(ctxKey{}).(LoopControl)
}

// CtlCtxFrom extracts the ControlContext of the running iteration.
func CtlCtxFrom(ctx context.Context) ControlContext {
	return ctx.Value(ctxKey{}).(ControlContext)
}

// NewLoop creates a Loop with the default interval.
func NewLoop() *Loop {
	return &Loop{Interval: DefaultLoopInterval}
}

// Add calls AddToLoop of each adder.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController installs controllers at a priority level. Controllers
// that are also Runnables are started by Run.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	lv := &l.levels[priorityLevel]
	lv.controllers = append(lv.controllers, ctls...)
	for _, ctl := range ctls {
		if r, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, r)
		}
	}
	return l
}

// AddRunnable adds Runnables started and waited for by Run.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable. It returns once ctx is done and all Runnables
// have returned.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUp == nil {
		l.wakeUp = make(chan struct{}, 1)
	}

	runner := NewRunnerWith(context.WithValue(ctx, ctxKey{}, LoopControl(l)))
	runner.Go(l.runners...)
	defer func() {
		if err := runner.Wait(); err != nil {
			glog.Errorf("loop: %v", err)
		}
	}()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultLoopInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-l.wakeUp:
		}
		l.runIteration(ctx)
	}
}

// RunOrFail runs the loop in main and exits on failure.
func (l *Loop) RunOrFail() {
	if err := l.Run(context.Background()); err != nil {
		glog.Exit(err)
	}
}

// PreRunAt implements LoopControl.
func (l *Loop) PreRunAt(priorityLevel int, hooks ...Controller) {
	lv := &l.levels[priorityLevel]
	lv.mu.Lock()
	defer lv.mu.Unlock()
	lv.preHooks = append(lv.preHooks, hooks...)
}

// PostRunAt implements LoopControl.
func (l *Loop) PostRunAt(priorityLevel int, hooks ...Controller) {
	lv := &l.levels[priorityLevel]
	lv.mu.Lock()
	defer lv.mu.Unlock()
	lv.postHooks = append(lv.postHooks, hooks...)
}

// PostMessage implements LoopControl.
func (l *Loop) PostMessage(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, msg)
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUp <- struct{}{}:
	default:
	}
}

func (l *Loop) runIteration(ctx context.Context) {
	it := &iteration{Loop: l, now: time.Now()}
	l.mu.Lock()
	it.msgs, l.pending = l.pending, nil
	l.mu.Unlock()
	it.ctx = context.WithValue(ctx, ctxKey{}, ControlContext(it))
	for n := range l.levels {
		it.level = n
		l.levels[n].run(it)
	}
	if len(it.msgs) > 0 {
		glog.V(5).Infof("loop: %d messages left unhandled", len(it.msgs))
	}
}

func (lv *level) run(it *iteration) {
	lv.mu.Lock()
	hooks := lv.preHooks
	lv.preHooks = nil
	lv.mu.Unlock()
	it.runAll(hooks)
	it.runAll(lv.controllers)
	lv.mu.Lock()
	hooks, lv.postHooks = lv.postHooks, nil
	lv.mu.Unlock()
	it.runAll(hooks)
}

// iteration implements ControlContext and MessageStore.
type iteration struct {
	*Loop
	ctx   context.Context
	now   time.Time
	level int
	msgs  []Message
}

func (it *iteration) Context() context.Context { return it.ctx }
func (it *iteration) Time() time.Time          { return it.now }
func (it *iteration) PriorityLevel() int       { return it.level }
func (it *iteration) Messages() MessageStore   { return it }

func (it *iteration) PostRun(hooks ...Controller) {
	it.PostRunAt(it.level, hooks...)
}

func (it *iteration) AddMessages(msgs ...Message) {
	it.msgs = append(it.msgs, msgs...)
}

// ProcessMessages keeps untaken messages in order, followed by those
// added during the walk.
func (it *iteration) ProcessMessages(proc MessageProcessor) {
	msgs := it.msgs
	it.msgs = nil
	kept := make([]Message, 0, len(msgs))
	for n, msg := range msgs {
		mc := &messageContext{it: it, msg: msg}
		proc.ProcessMessage(mc)
		if !mc.taken {
			kept = append(kept, msg)
		}
		if mc.stop {
			kept = append(kept, msgs[n+1:]...)
			break
		}
	}
	it.msgs = append(kept, it.msgs...)
}

func (it *iteration) runAll(ctls []Controller) {
	for _, ctl := range ctls {
		if err := ctl.Control(it); err != nil {
			glog.Errorf("loop: level %d controller: %v", it.level, err)
		}
	}
}

type messageContext struct {
	it    *iteration
	msg   Message
	taken bool
	stop  bool
}

func (c *messageContext) CurrentMessage() Message     { return c.msg }
func (c *messageContext) MessageTaken()               { c.taken = true }
func (c *messageContext) StopProcessing()             { c.stop = true }
func (c *messageContext) AddMessages(msgs ...Message) { c.it.AddMessages(msgs...) }
