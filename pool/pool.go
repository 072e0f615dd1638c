package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/viant/sqlite-pool/db"
	"github.com/viant/sqlite-pool/engine"
)

var (
	// ErrDraining is returned to borrows attempted while CloseAll is in
	// progress. The drain takes priority; retry after it completes.
	ErrDraining = errors.New("pool: close in progress")

	// ErrNotWritable is returned by writable borrows against a pool whose
	// open flags exclude writing, or whose database file is read-only.
	ErrNotWritable = errors.New("pool: no writable connection available")
)

// DefaultCapacity is the connection ceiling used when Options.Capacity is
// zero: one writable plus four read-only slots.
const DefaultCapacity = 5

// Options configure a Pool. The zero value is usable for a read-write pool
// with default capacity and busy timeout.
type Options struct {
	// Capacity is the maximum number of open connections, including the
	// single writable one. Minimum 2; below that a pool has no point.
	Capacity int

	// Flags for opening connections. Zero means read-write, create, URI.
	// Read-only slots are derived from these with the write and create
	// bits stripped.
	Flags engine.OpenFlags

	// VFS names an alternative VFS module; empty for the default.
	VFS string

	// BusyTimeout for every connection; zero applies the db package
	// default.
	BusyTimeout time.Duration

	// DeferredDefault makes pool-scoped transactions open deferred instead
	// of immediate. Immediate is the default: the write lock is taken at
	// BEGIN, so lock contention surfaces at a well-defined point.
	DeferredDefault bool

	// OnOpen, when set, runs once on each newly opened connection before it
	// is handed out, the place for per-connection setup such as pragmas or
	// function registration. It runs multiple times per pool, so file-level
	// initialization does not belong here.
	OnOpen func(*db.Conn) error

	// PanicOnMisuse is forwarded to every connection the pool opens.
	PanicOnMisuse bool
}

func (o *Options) capacity() int {
	if o.Capacity == 0 {
		return DefaultCapacity
	}
	return o.Capacity
}

func (o *Options) flags() engine.OpenFlags {
	if o.Flags == 0 {
		return engine.OpenReadWrite | engine.OpenCreate | engine.OpenURI
	}
	return o.Flags
}

func (o *Options) writable() bool {
	return o.flags()&engine.OpenReadWrite != 0
}

// Pool is a bounded, thread-safe set of connections against one target.
// Connections are opened on demand, up to capacity, and reused after
// release.
type Pool struct {
	target string
	opts   Options

	mu   sync.Mutex
	cond *sync.Cond // read-only waiters and drain watchers

	roCapacity int          // capacity excluding the writable slot
	roIdle     []*db.Conn   // available read-only connections
	roTotal    int          // read-only connections opened (incl. borrowed)
	rwIdle     *db.Conn     // the writable connection, when idle
	rwTotal    int          // 0 or 1
	rwWaiters  []chan *db.Conn // FIFO queue of writable borrows
	borrowed   map[*db.Conn]bool // live borrows; value is the writable tag
	draining   bool

	waits    atomic.Uint64 // borrows that had to block
	timeouts atomic.Uint64 // borrows cancelled by their context
	borrows  atomic.Uint64 // successful borrows
}

// New creates a pool over target, a file path or URI. No connection is
// opened until the first borrow, so errors like file-not-found surface
// there. In-memory targets are rejected: separate connections to ":memory:"
// would each see a private database. Use NewMemory instead.
func New(target string, opts Options) (*Pool, error) {
	if target == "" {
		return nil, fmt.Errorf("pool: empty target")
	}
	if target == ":memory:" || strings.Contains(target, "mode=memory") {
		return nil, fmt.Errorf("pool: in-memory target %q not poolable; use NewMemory", target)
	}
	if opts.Capacity != 0 && opts.Capacity < 2 {
		return nil, fmt.Errorf("pool: capacity must be at least 2, got %d", opts.Capacity)
	}
	p := &Pool{
		target:     target,
		opts:       opts,
		roCapacity: opts.capacity() - 1,
		borrowed:   make(map[*db.Conn]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// NewMemory creates a pool over a fresh, uniquely named in-memory database
// shared by all of the pool's connections via the engine's memdb VFS. Handy
// for tests and scratch stores; contents vanish when the last connection
// closes.
func NewMemory(opts Options) (*Pool, error) {
	target := fmt.Sprintf("file:/%s?vfs=memdb", uuid.NewString())
	if opts.Capacity != 0 && opts.Capacity < 2 {
		return nil, fmt.Errorf("pool: capacity must be at least 2, got %d", opts.Capacity)
	}
	p := &Pool{
		target:     target,
		opts:       opts,
		roCapacity: opts.capacity() - 1,
		borrowed:   make(map[*db.Conn]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Target returns the path or URI the pool opens connections against.
func (p *Pool) Target() string { return p.target }

// OpenCount returns the number of open connections, borrowed and idle.
func (p *Pool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roTotal + p.rwTotal
}

// BorrowedCount returns the number of connections currently borrowed. At
// every instant borrowed <= open <= capacity.
func (p *Pool) BorrowedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowedLocked()
}

// Capacity returns the pool's connection ceiling, including the writable
// slot.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roCapacity + 1
}

// SetCapacity resizes the pool at runtime. Minimum 2. Surplus idle
// read-only connections are closed immediately; surplus borrowed ones are
// closed as they come back.
func (p *Pool) SetCapacity(n int) error {
	if n < 2 {
		return fmt.Errorf("pool: capacity must be at least 2, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roCapacity = n - 1
	for p.roTotal > p.roCapacity && len(p.roIdle) > 0 {
		c := p.roIdle[len(p.roIdle)-1]
		p.roIdle = p.roIdle[:len(p.roIdle)-1]
		p.roTotal--
		p.closeConn(c)
	}
	return nil
}

func (p *Pool) borrowedLocked() int {
	idleRW := 0
	if p.rwIdle != nil {
		idleRW = 1
	}
	return (p.roTotal - len(p.roIdle)) + (p.rwTotal - idleRW)
}

// Borrow returns a read-only connection, opening one if no idle connection
// exists and the ceiling allows, and otherwise blocking until a slot frees
// or ctx is done.
func (p *Pool) Borrow(ctx context.Context) (*db.Conn, error) {
	p.mu.Lock()

	// Wake the cond loop when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	waited := false
	for {
		if p.draining {
			p.mu.Unlock()
			return nil, ErrDraining
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			p.timeouts.Add(1)
			return nil, fmt.Errorf("pool: borrow: %w", err)
		}
		if conn, err, ok := p.takeReadOnlyLocked(); ok {
			// takeReadOnlyLocked released the mutex.
			return conn, err
		}
		if !waited {
			waited = true
			p.waits.Add(1)
		}
		p.cond.Wait()
	}
}

// TryBorrow is the non-blocking Borrow: it returns (nil, nil) when every
// read-only slot is busy and the ceiling is reached. Exhaustion is an
// expected, checkable outcome, not an error.
func (p *Pool) TryBorrow() (*db.Conn, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrDraining
	}
	if conn, err, ok := p.takeReadOnlyLocked(); ok {
		return conn, err
	}
	p.mu.Unlock()
	return nil, nil
}

// takeReadOnlyLocked hands out an idle read-only connection or opens a new
// one when the ceiling allows. Called with p.mu held; on ok=true the mutex
// has been released (the open itself must not run under the registry lock).
func (p *Pool) takeReadOnlyLocked() (*db.Conn, error, bool) {
	if n := len(p.roIdle); n > 0 {
		conn := p.roIdle[n-1]
		p.roIdle = p.roIdle[:n-1]
		p.borrowed[conn] = false
		p.borrows.Add(1)
		p.mu.Unlock()
		return conn, nil, true
	}
	if p.roTotal < p.roCapacity {
		p.roTotal++ // reserve the slot before dropping the lock
		p.mu.Unlock()
		conn, err := p.openConn(false)
		p.mu.Lock()
		if err != nil {
			p.roTotal--
			p.cond.Broadcast()
			p.mu.Unlock()
			return nil, err, true
		}
		p.borrowed[conn] = false
		p.borrows.Add(1)
		p.mu.Unlock()
		return conn, nil, true
	}
	return nil, nil, false
}

// BorrowWritable returns the pool's writable connection, opening it on
// first use, and otherwise blocking until it is released or ctx is done.
// Writable waiters are serviced in FIFO arrival order.
func (p *Pool) BorrowWritable(ctx context.Context) (*db.Conn, error) {
	if !p.opts.writable() {
		return nil, ErrNotWritable
	}
	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			return nil, ErrDraining
		}
		if conn, err, ok := p.takeWritableLocked(); ok {
			return conn, err
		}

		// The slot is busy: join the FIFO queue.
		ch := make(chan *db.Conn, 1)
		p.rwWaiters = append(p.rwWaiters, ch)
		p.waits.Add(1)
		p.mu.Unlock()

		select {
		case conn, ok := <-ch:
			if !ok {
				return nil, ErrDraining
			}
			if conn == nil {
				// The slot freed without a connection to hand over (a
				// failed open, or the borrower closed it). Retry; our
				// place at the head of the queue was already consumed.
				continue
			}
			p.borrows.Add(1)
			return conn, nil
		case <-ctx.Done():
			p.mu.Lock()
			for i, w := range p.rwWaiters {
				if w == ch {
					p.rwWaiters = append(p.rwWaiters[:i], p.rwWaiters[i+1:]...)
					break
				}
			}
			p.mu.Unlock()
			// The connection may have been handed to us in the same instant.
			select {
			case conn, ok := <-ch:
				if ok && conn != nil {
					p.Release(conn)
				}
			default:
			}
			p.timeouts.Add(1)
			return nil, fmt.Errorf("pool: borrow writable: %w", ctx.Err())
		}
	}
}

// wakeWritableWaiterLocked pops the oldest writable waiter, if any, and
// tells it to retry. Used when the slot frees without a live connection to
// hand over.
func (p *Pool) wakeWritableWaiterLocked() {
	if len(p.rwWaiters) > 0 {
		ch := p.rwWaiters[0]
		p.rwWaiters = p.rwWaiters[1:]
		ch <- nil
	}
}

// TryBorrowWritable is the non-blocking BorrowWritable, returning
// (nil, nil) while the writable slot is checked out.
func (p *Pool) TryBorrowWritable() (*db.Conn, error) {
	if !p.opts.writable() {
		return nil, ErrNotWritable
	}
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrDraining
	}
	if conn, err, ok := p.takeWritableLocked(); ok {
		return conn, err
	}
	p.mu.Unlock()
	return nil, nil
}

// takeWritableLocked mirrors takeReadOnlyLocked for the writable slot.
func (p *Pool) takeWritableLocked() (*db.Conn, error, bool) {
	if p.rwIdle != nil {
		conn := p.rwIdle
		p.rwIdle = nil
		p.borrowed[conn] = true
		p.borrows.Add(1)
		p.mu.Unlock()
		return conn, nil, true
	}
	if p.rwTotal == 0 {
		p.rwTotal = 1
		p.mu.Unlock()
		conn, err := p.openConn(true)
		if err == nil && !conn.Writable() {
			_ = conn.Close()
			conn, err = nil, ErrNotWritable
		}
		p.mu.Lock()
		if err != nil {
			p.rwTotal = 0
			p.wakeWritableWaiterLocked()
			p.cond.Broadcast()
			p.mu.Unlock()
			return nil, err, true
		}
		p.borrowed[conn] = true
		p.borrows.Add(1)
		p.mu.Unlock()
		return conn, nil, true
	}
	return nil, nil, false
}

// Release returns a borrowed connection to the pool and wakes one waiter.
// Writable releases hand the connection directly to the oldest writable
// waiter, preserving arrival order. Releasing a connection with an open
// transaction is a bug in the caller; the transaction is rolled back before
// the connection goes back into circulation.
func (p *Pool) Release(conn *db.Conn) {
	if conn == nil {
		return
	}
	for conn.TransactionDepth() > 0 {
		db.Logf("[WARN] pool: connection released with open transaction, rolling back")
		if err := conn.EndTransaction(false); err != nil {
			db.Logf("[WARN] pool: rollback on release: %v", err)
			break
		}
	}

	p.mu.Lock()
	writable, ok := p.borrowed[conn]
	if !ok {
		p.mu.Unlock()
		db.Logf("[WARN] pool: release of connection not borrowed from this pool")
		return
	}
	delete(p.borrowed, conn)

	if conn.Closed() {
		// Borrower closed it; the slot reopens on demand.
		if writable {
			p.rwTotal = 0
			p.wakeWritableWaiterLocked()
		} else {
			p.roTotal--
		}
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	if writable {
		// Direct hand-off to the oldest waiter keeps FIFO order.
		for len(p.rwWaiters) > 0 {
			ch := p.rwWaiters[0]
			p.rwWaiters = p.rwWaiters[1:]
			p.borrowed[conn] = true
			ch <- conn
			p.mu.Unlock()
			return
		}
		p.rwIdle = conn
	} else {
		if p.roTotal > p.roCapacity {
			// Capacity was lowered while this connection was out.
			p.roTotal--
			p.closeConn(conn)
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		p.roIdle = append(p.roIdle, conn)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseAll blocks until every borrowed connection is released, closes all
// open connections, and resets the counters to zero. While the drain is in
// progress new borrows fail with ErrDraining; queued writable waiters are
// flushed with the same error. The pool remains usable afterwards,
// reopening from zero. The first close error is returned; the remaining
// connections are still closed.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return ErrDraining
	}
	p.draining = true
	for _, ch := range p.rwWaiters {
		close(ch)
	}
	p.rwWaiters = nil

	for p.borrowedLocked() > 0 {
		p.cond.Wait()
	}

	var firstErr error
	for _, c := range p.roIdle {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.roIdle = nil
	p.roTotal = 0
	if p.rwIdle != nil {
		if err := p.rwIdle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.rwIdle = nil
	}
	p.rwTotal = 0

	p.draining = false
	p.cond.Broadcast()
	p.mu.Unlock()
	return firstErr
}

// CloseIdle closes every connection the pool holds that is not currently
// borrowed. The pool can still reopen connections on demand, up to
// capacity.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.roIdle {
		p.closeConn(c)
	}
	p.roTotal -= len(p.roIdle)
	p.roIdle = nil
	if p.rwIdle != nil {
		p.closeConn(p.rwIdle)
		p.rwIdle = nil
		p.rwTotal = 0
	}
}

// openConn opens one connection in the pool's configured mode and runs the
// OnOpen initializer. Never called with the registry lock held.
func (p *Pool) openConn(writable bool) (*db.Conn, error) {
	flags := p.opts.flags()
	if !writable {
		flags = (flags &^ (engine.OpenReadWrite | engine.OpenCreate)) | engine.OpenReadOnly
	}
	conn, err := db.Open(p.target, &db.OpenOptions{
		Flags:         flags,
		VFS:           p.opts.VFS,
		BusyTimeout:   p.opts.BusyTimeout,
		PanicOnMisuse: p.opts.PanicOnMisuse,
	})
	if err != nil {
		return nil, err
	}
	if p.opts.OnOpen != nil {
		if err := p.opts.OnOpen(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("pool: on-open initializer: %w", err)
		}
	}
	return conn, nil
}

func (p *Pool) closeConn(c *db.Conn) {
	if err := c.Close(); err != nil {
		db.Logf("[WARN] pool: closing connection: %v", err)
	}
}
