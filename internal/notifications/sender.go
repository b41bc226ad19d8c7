package notifications

import (
	"context"
	"log/slog"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Message is one outbound delivery.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers messages over one channel. Implementations wrap transient
// transport failures in RetryableError; anything else is treated as
// permanent and fails the notification on the first attempt.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel types to senders. Channels without a registered
// sender resolve to a disabled stub that fails permanently.
type Registry struct {
	senders map[domain.ChannelType]Sender
}

// NewRegistry builds a registry from the given senders.
func NewRegistry(senders ...Sender) *Registry {
	m := make(map[domain.ChannelType]Sender, len(senders))
	for _, s := range senders {
		m[s.Type()] = s
	}
	return &Registry{senders: m}
}

// Get returns the sender for a channel, falling back to a disabled stub.
func (r *Registry) Get(t domain.ChannelType) Sender {
	if s, ok := r.senders[t]; ok {
		return s
	}
	return disabledSender{channel: t}
}

// Channels returns the channel types with a real sender registered.
func (r *Registry) Channels() []domain.ChannelType {
	out := make([]domain.ChannelType, 0, len(r.senders))
	for t := range r.senders {
		out = append(out, t)
	}
	return out
}

type disabledSender struct {
	channel domain.ChannelType
}

func (s disabledSender) Type() domain.ChannelType { return s.channel }

func (s disabledSender) Send(ctx context.Context, msg Message) error {
	slog.Debug("channel disabled, dropping message", "channel", s.channel, "recipient", msg.Recipient)
	return ErrChannelDisabled
}
