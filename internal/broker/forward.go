package broker

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

// relay is the per-subscriber copy of one forwarded body.
type relay struct {
	mailboxID string
	body      *message.Body
}

// forward hands a relay of msg to every mailbox subscribed to d and starts a forwarder
// that feeds the relays from the source body. It runs on the actor goroutine and never
// blocks.
func (c *core) forward(table *channelMap, d topic.Descriptor, msg *message.Message) {
	c.stats.forwards.Add(1)

	header, _, _, src := msg.Parts()

	var relays []relay
	var gone []string
	for _, e := range table.matching(d) {
		body := message.NewBody(c.cfg.RelayCapacity)
		out := message.FromParts(header.Clone(), d, e.protocol == channels.Multiplexed, body)

		err := e.mailbox.TrySend(out)
		switch {
		case err == nil:
			c.stats.deliveries.Add(1)
			relays = append(relays, relay{mailboxID: e.mailbox.ID(), body: body})
		case errors.Is(err, channels.ErrMailboxClosed):
			c.stats.droppedClosed.Add(1)
			gone = append(gone, e.mailbox.ID())
		default:
			c.stats.droppedFull.Add(1)
			c.logger.Debug("mailbox rejected message",
				zap.String("mailbox", e.mailbox.ID()),
				zap.String("topic", d.String()),
				zap.Error(err))
		}
	}

	for _, id := range gone {
		if table.remove(id) {
			c.stats.purged.Add(1)
		}
	}

	if len(relays) == 0 {
		src.Abandon()
		return
	}

	c.wg.Add(1)
	go c.fanOut(d, src, relays)
}

// fanOut drains src and copies every chunk reference into each relay. A relay that cannot
// take a chunk within ChunkTimeout is closed as truncated and dropped; the rest keep
// going. Relays still live when src fails or the broker stops are truncated too.
func (c *core) fanOut(d topic.Descriptor, src *message.Body, relays []relay) {
	defer c.wg.Done()

	var closeErr error
	defer func() {
		for _, r := range relays {
			r.body.CloseWithError(closeErr)
		}
	}()

	for {
		chunk, err := src.Next(c.ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			closeErr = err
			src.Abandon()
			return
		}

		relays = c.broadcast(d, chunk, relays)
		if len(relays) == 0 {
			src.Abandon()
			return
		}
	}
}

func (c *core) broadcast(d topic.Descriptor, chunk message.Chunk, relays []relay) []relay {
	live := relays[:0]
	for _, r := range relays {
		if err := c.sendChunk(r.body, chunk); err != nil {
			c.stats.relayFailures.Add(1)
			c.logger.Debug("dropping subscriber from message",
				zap.String("mailbox", r.mailboxID),
				zap.String("topic", d.String()),
				zap.Error(err))
			r.body.CloseWithError(err)
			continue
		}
		live = append(live, r)
	}
	return live
}

func (c *core) sendChunk(body *message.Body, chunk message.Chunk) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ChunkTimeout)
	defer cancel()
	return body.Send(ctx, chunk)
}
