package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/workspace"
)

const (
	reasonCancelled  = "cancelled"
	reasonSuperseded = "superseded by a new run"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l pslog.Logger) Option {
	return func(c *Controller) { c.log = logx.Or(l) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns at most one active execution session and the transport
// connection it runs over. Subscribers receive a copy of the session after
// every change, in the order the changes happened. Subscriber callbacks may
// call Current but must not call Run, Cancel, Reset or Subscribe.
type Controller struct {
	// runMu serialises Run so a new transport is never opened before the
	// previous reader has stopped.
	runMu sync.Mutex

	mu   sync.Mutex
	gen  uint64
	sess Session
	conn Conn
	stop context.CancelFunc
	done chan struct{}

	// notifyMu is held for a whole commit and is always taken before mu.
	notifyMu sync.Mutex
	subs     map[int]func(Session)
	nextSub  int

	log pslog.Logger
	now func() time.Time
}

// New creates an idle Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		sess: Session{State: Idle},
		subs: make(map[int]func(Session)),
		log:  logx.Discard(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the latest session.
func (c *Controller) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.clone()
}

// Subscribe registers fn for session updates.
func (c *Controller) Subscribe(fn func(Session)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Run starts a new session for req over t. Any active session is forced to
// Failed and its transport closed before the new one is opened. Run returns
// once the new session is Connecting; progress is observed via Subscribe,
// Current or Wait. The session is cancelled if ctx is.
func (c *Controller) Run(ctx context.Context, t Transport, req Request) (Session, error) {
	if req.Snapshot.EntryFile == workspace.NoEntry || !req.Snapshot.Files.Has(req.Snapshot.EntryFile) {
		return c.Current(), ErrNoEntry
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.terminate(reasonSuperseded)
	c.mu.Lock()
	prev := c.done
	c.mu.Unlock()
	if prev != nil {
		<-prev
	}

	id, err := uuid.NewV7()
	if err != nil {
		return c.Current(), fmt.Errorf("generating session id: %w", err)
	}
	sctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	var (
		gen  uint64
		snap Session
	)
	c.commit(func() bool {
		c.gen++
		gen = c.gen
		c.sess = Session{
			ID:        id.String(),
			Mode:      t.Mode(),
			State:     Connecting,
			StartedAt: c.now(),
		}
		c.conn = nil
		c.stop = stop
		c.done = done
		snap = c.sess.clone()
		return true
	})

	log := logx.WithSession(c.log, snap.ID)
	log.Info("run started", "mode", snap.Mode, "entry", req.Snapshot.EntryFile, "files", len(req.Snapshot.Files))

	go c.serve(sctx, stop, gen, t, req, done, log)
	return snap, nil
}

// Cancel forces an active session to Failed and closes its transport. Frames
// that arrive afterwards are dropped. Cancel is a no-op when nothing is
// running.
func (c *Controller) Cancel() {
	c.terminate(reasonCancelled)
}

// SendInput forwards text to the running program. It is a no-op when there
// is no open transport, including when the session ends while the write is
// in flight, and fails with ErrInputUnsupported for one-shot runs.
func (c *Controller) SendInput(text string) error {
	c.mu.Lock()
	conn, sess, gen := c.conn, c.sess, c.gen
	c.mu.Unlock()

	if sess.Mode == ModeOneShot && sess.State.Active() {
		return ErrInputUnsupported
	}
	if conn == nil || sess.State != Running {
		return nil
	}
	if err := conn.SendInput(text); err != nil {
		c.mu.Lock()
		gone := c.gen != gen || c.conn != conn
		c.mu.Unlock()
		if gone {
			return nil
		}
		return fmt.Errorf("sending input: %w", err)
	}
	return nil
}

// Wait blocks until the current session is no longer active, or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Session, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Current(), ctx.Err()
		}
	}
	return c.Current(), nil
}

// Reset clears the transcript. A terminal session returns to Idle.
func (c *Controller) Reset() {
	c.commit(func() bool {
		if c.sess.State.Active() {
			c.sess.Transcript = nil
		} else {
			c.sess = Session{State: Idle}
		}
		return true
	})
}

func (c *Controller) serve(ctx context.Context, stop context.CancelFunc, gen uint64, t Transport, req Request, done chan struct{}, log pslog.Logger) {
	defer close(done)
	defer stop()

	conn, err := t.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			c.fail(gen, reasonCancelled, log)
			return
		}
		c.fail(gen, err.Error(), log)
		return
	}
	if !c.attach(gen, conn) {
		conn.Close()
		return
	}
	log.Debug("transport ready")

	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	for {
		f, err := conn.Recv()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				log.Warn("malformed frame ignored", "err", err)
				if !c.update(gen, func(s *Session) { s.appendChunk(System, err.Error()+"\n") }) {
					return
				}
				continue
			}
			conn.Close()
			if ctx.Err() != nil {
				c.fail(gen, reasonCancelled, log)
				return
			}
			c.fail(gen, err.Error(), log)
			return
		}

		switch f.Type {
		case protocol.TypeStdout:
			if !c.update(gen, func(s *Session) { s.appendChunk(Stdout, f.Data) }) {
				return
			}
		case protocol.TypeStderr:
			if !c.update(gen, func(s *Session) { s.appendChunk(Stderr, f.Data) }) {
				return
			}
		case protocol.TypeExit:
			if f.Code == nil {
				continue
			}
			code := *f.Code
			ok := c.update(gen, func(s *Session) {
				s.ExitCode = &code
				s.finish(Completed, c.now())
				c.conn = nil
			})
			conn.Close()
			if ok {
				log.Info("run completed", "exit_code", code)
			}
			return
		}
	}
}

// attach records conn as the transport of session gen and moves it to
// Running.
func (c *Controller) attach(gen uint64, conn Conn) bool {
	return c.update(gen, func(s *Session) {
		c.conn = conn
		s.State = Running
		s.Transcript = nil
	})
}

func (c *Controller) fail(gen uint64, reason string, log pslog.Logger) {
	ok := c.update(gen, func(s *Session) {
		c.conn = nil
		s.Diagnostic = reason
		s.appendChunk(System, reason+"\n")
		s.finish(Failed, c.now())
	})
	if ok {
		log.Warn("run failed", "reason", reason)
	}
}

// terminate forces the active session, if any, to Failed and releases its
// transport.
func (c *Controller) terminate(reason string) {
	var (
		conn Conn
		stop context.CancelFunc
		id   string
	)
	ok := c.commit(func() bool {
		if !c.sess.State.Active() {
			return false
		}
		c.gen++
		conn, stop = c.conn, c.stop
		c.conn = nil
		c.sess.Diagnostic = reason
		c.sess.appendChunk(System, reason+"\n")
		c.sess.finish(Failed, c.now())
		id = c.sess.ID
		return true
	})
	if !ok {
		return
	}

	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close()
	}
	logx.WithSession(c.log, id).Info("run terminated", "reason", reason)
}

// update applies fn to session gen and notifies subscribers. It reports
// false, without calling fn, once gen is stale or terminal.
func (c *Controller) update(gen uint64, fn func(s *Session)) bool {
	return c.commit(func() bool {
		if gen != c.gen || c.sess.State.Terminal() {
			return false
		}
		fn(&c.sess)
		return true
	})
}

// commit runs apply under mu. When apply reports true, subscribers get the
// resulting session after mu is released but before the next commit starts.
func (c *Controller) commit(apply func() bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if !apply() {
		c.mu.Unlock()
		return false
	}
	snap := c.sess.clone()
	subs := make([]func(Session), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return true
}
