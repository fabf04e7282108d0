package hermterm

import (
	"context"

	"pkt.systems/hermterm/core"
	"pkt.systems/hermterm/internal/channel"
	"pkt.systems/hermterm/schema"
)

// ChannelTransport carries session tasks and view subscriptions over a
// remote channel.
type ChannelTransport struct {
	client *channel.Client
	app    string
}

// NewChannelTransport binds a channel client to the agent app.
func NewChannelTransport(client *channel.Client, app string) *ChannelTransport {
	if app == "" {
		app = schema.DefaultApp
	}
	return &ChannelTransport{client: client, app: app}
}

// Request pokes the agent with a session task and waits for its ack.
func (t *ChannelTransport) Request(ctx context.Context, task schema.SessionTask) error {
	return t.client.Poke(ctx, t.app, schema.DefaultTaskMark, task)
}

// Subscribe opens a subscription on the agent at path.
func (t *ChannelTransport) Subscribe(ctx context.Context, path string, handlers core.StreamHandlers) (schema.SubscriptionID, error) {
	id, err := t.client.Subscribe(ctx, t.app, path, channel.Handlers{
		OnEvent: handlers.OnEvent,
		OnError: handlers.OnError,
		OnEnd:   handlers.OnEnd,
	})
	if err != nil {
		return 0, err
	}
	return schema.SubscriptionID(id), nil
}

// Unsubscribe ends a subscription without calling its OnEnd handler.
func (t *ChannelTransport) Unsubscribe(ctx context.Context, id schema.SubscriptionID) error {
	return t.client.Unsubscribe(ctx, uint64(id))
}

// Sessions lists the sessions the agent knows about.
func (t *ChannelTransport) Sessions(ctx context.Context) ([]schema.SessionName, error) {
	var names []schema.SessionName
	if err := t.client.Scry(ctx, t.app, "/sessions", &names); err != nil {
		return nil, err
	}
	return names, nil
}
