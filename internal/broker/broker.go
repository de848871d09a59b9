package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

// core is the state shared by every handle on one broker.
type core struct {
	cfg    Config
	logger *zap.Logger
	ctx    context.Context

	cmds chan command
	stop chan struct{} // closed when the last handle is released
	done chan struct{} // closed when the actor has exited

	// sendMu is held shared by senders and exclusively once by the exiting actor, so that
	// no command can be queued after the final discard.
	sendMu  sync.RWMutex
	stopped bool

	stopOnce sync.Once
	refs     atomic.Int64
	wg       sync.WaitGroup // actor and forwarders

	stats counters
}

// Handle is a cheap reference to a running broker. All methods are safe for concurrent
// use. Each handle must be closed once; the broker stops after the last one is closed or
// when the context given to New is cancelled.
type Handle struct {
	core   *core
	closed atomic.Bool
}

// New starts a broker and returns its first handle. A nil cfg uses DefaultConfig.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker config: %w", err)
	}
	c := *cfg
	c.SetDefaults()

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	bc := &core{
		cfg:    c,
		logger: o.logger,
		ctx:    ctx,
		cmds:   make(chan command, c.CommandQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	bc.refs.Store(1)

	bc.wg.Add(1)
	go bc.run()

	bc.logger.Debug("broker started",
		zap.Int("queue_size", c.CommandQueueSize),
		zap.Int("relay_capacity", c.RelayCapacity),
		zap.Duration("chunk_timeout", c.ChunkTimeout))

	return &Handle{core: bc}, nil
}

// Subscribe registers mb for d.
func (h *Handle) Subscribe(d topic.Descriptor, p channels.Protocol, mb channels.Mailbox) {
	if !usable(mb) {
		return
	}
	h.core.enqueue(registerCmd{topic: d, protocol: p, mailbox: mb})
}

// Unsubscribe removes every registration of d for mb.
func (h *Handle) Unsubscribe(d topic.Descriptor, mb channels.Mailbox) {
	if !usable(mb) {
		return
	}
	h.core.enqueue(unregisterCmd{topic: d, mailbox: mb})
}

// UnsubscribeAll removes mb from the broker.
func (h *Handle) UnsubscribeAll(mb channels.Mailbox) {
	if !usable(mb) {
		return
	}
	h.core.enqueue(unregisterAllCmd{mailbox: mb})
}

// usable reports whether mb can be handed to the actor. It runs on the caller's goroutine,
// so a mailbox without an identity never reaches the table.
func usable(mb channels.Mailbox) bool {
	return mb != nil && mb.ID() != ""
}

// Send forwards m to every mailbox subscribed to d.
func (h *Handle) Send(d topic.Descriptor, m message.Messager) {
	if m == nil {
		return
	}
	msg := m.Message()
	if msg == nil {
		return
	}
	h.core.enqueue(forwardCmd{topic: d, msg: msg})
}

// SendTo forwards m to every mailbox subscribed to d.
func (h *Handle) SendTo(d topic.Descriptor, m message.Messager) {
	h.Send(d, m)
}

// Snapshot returns the subscription table after every previously enqueued command has
// been applied.
func (h *Handle) Snapshot(ctx context.Context) ([]channels.SubscriberInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply := make(chan []channels.SubscriberInfo, 1)
	if !h.core.enqueueCtx(ctx, snapshotCmd{reply: reply}) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, channels.ErrBrokerClosed
	}

	select {
	case infos := <-reply:
		return infos, nil
	case <-h.core.done:
		// The actor may have answered just before exiting
		select {
		case infos := <-reply:
			return infos, nil
		default:
			return nil, channels.ErrBrokerClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the current broker counters.
func (h *Handle) Stats() Stats {
	return h.core.stats.load()
}

// Clone returns a new handle on the same broker.
func (h *Handle) Clone() channels.Broker {
	return h.CloneHandle()
}

// CloneHandle is Clone with a concrete return type.
func (h *Handle) CloneHandle() *Handle {
	h.core.refs.Add(1)
	return &Handle{core: h.core}
}

// Close releases the handle. Closing the last handle stops the broker after it has
// applied the commands already queued. Close is idempotent.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.core.refs.Add(-1) == 0 {
		h.core.stopOnce.Do(func() {
			close(h.core.stop)
		})
	}
	return nil
}

// Done is closed once the actor has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.core.done
}

// Wait blocks until the actor and every forwarder it started have exited.
func (h *Handle) Wait() {
	h.core.wg.Wait()
}

// enqueue hands cmd to the actor. Commands sent after the actor exited are dropped.
func (c *core) enqueue(cmd command) bool {
	return c.enqueueCtx(context.Background(), cmd)
}

func (c *core) enqueueCtx(ctx context.Context, cmd command) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.stopped {
		discard(cmd)
		return false
	}

	select {
	case c.cmds <- cmd:
		return true
	case <-c.done:
		discard(cmd)
		return false
	case <-ctx.Done():
		discard(cmd)
		return false
	}
}

// run is the actor loop. It is the only goroutine that touches the table.
func (c *core) run() {
	defer c.wg.Done()
	defer c.shutdown()

	table := newChannelMap(c.cfg.InitialCapacity)

	var tick <-chan time.Time
	if c.cfg.CleanupInterval > 0 {
		ticker := time.NewTicker(c.cfg.CleanupInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var applied int
	for {
		select {
		case cmd := <-c.cmds:
			c.apply(table, cmd)
			applied++
			if applied%c.cfg.CleanupEvery == 0 {
				c.cleanup(table)
			}
		case <-tick:
			c.cleanup(table)
		case <-c.stop:
			c.drain(table)
			c.logger.Debug("broker stopped: all handles closed")
			return
		case <-c.ctx.Done():
			c.discardQueued()
			c.logger.Debug("broker stopped", zap.Error(c.ctx.Err()))
			return
		}
	}
}

// drain applies whatever is still queued.
func (c *core) drain(table *channelMap) {
	for {
		select {
		case cmd := <-c.cmds:
			c.apply(table, cmd)
		default:
			return
		}
	}
}

// shutdown marks the actor as exited and abandons commands that raced with the exit.
// Senders blocked on a full queue are released by done before the lock is taken.
func (c *core) shutdown() {
	close(c.done)

	c.sendMu.Lock()
	c.stopped = true
	c.sendMu.Unlock()

	c.discardQueued()
}

func (c *core) discardQueued() {
	for {
		select {
		case cmd := <-c.cmds:
			discard(cmd)
		default:
			return
		}
	}
}

func (c *core) apply(table *channelMap, cmd command) {
	c.stats.commands.Add(1)

	switch cmd := cmd.(type) {
	case registerCmd:
		table.register(cmd.topic, cmd.protocol, cmd.mailbox)
	case unregisterCmd:
		table.unregister(cmd.topic, cmd.mailbox)
	case unregisterAllCmd:
		table.remove(cmd.mailbox.ID())
	case forwardCmd:
		c.forward(table, cmd.topic, cmd.msg)
	case snapshotCmd:
		cmd.reply <- table.snapshot()
	}

	c.stats.subscribers.Store(int64(table.len()))
}

func (c *core) cleanup(table *channelMap) {
	if n := table.cleanup(); n > 0 {
		c.stats.purged.Add(uint64(n))
		c.stats.subscribers.Store(int64(table.len()))
		c.logger.Debug("purged closed mailboxes", zap.Int("count", n))
	}
}

// Verify that Handle implements channels.Broker at compile time
var _ channels.Broker = (*Handle)(nil)
