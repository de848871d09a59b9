package broker

import (
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

// command is one unit of work for the actor. The set of commands is closed.
type command interface {
	isCommand()
}

type registerCmd struct {
	topic    topic.Descriptor
	protocol channels.Protocol
	mailbox  channels.Mailbox
}

type unregisterCmd struct {
	topic   topic.Descriptor
	mailbox channels.Mailbox
}

type unregisterAllCmd struct {
	mailbox channels.Mailbox
}

type forwardCmd struct {
	topic topic.Descriptor
	msg   *message.Message
}

// snapshotCmd asks the actor for a copy of the table. reply must be buffered.
type snapshotCmd struct {
	reply chan []channels.SubscriberInfo
}

func (registerCmd) isCommand()      {}
func (unregisterCmd) isCommand()    {}
func (unregisterAllCmd) isCommand() {}
func (forwardCmd) isCommand()       {}
func (snapshotCmd) isCommand()      {}

// discard releases whatever a command that will never be applied holds on to.
func discard(cmd command) {
	if fwd, ok := cmd.(forwardCmd); ok {
		fwd.msg.Body().Abandon()
	}
}
