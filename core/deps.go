package core

import (
	"context"
	"encoding/json"

	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// Surface is the render surface of one session.
type Surface interface {
	// Write applies data and returns once it was applied.
	Write(ctx context.Context, data string) error
	// Cursor returns the zero-based cursor position after the last write.
	Cursor() schema.Cursor
	Rows() int
	// Fit resizes the surface to its container and reports the new size.
	Fit() (cols, rows int)
	Focus()
}

// SurfaceFactory builds the render surface of a session.
type SurfaceFactory func(name schema.SessionName) (Surface, error)

// StreamHandlers receive the events of a subscription. OnEnd is called once
// when the remote terminates the stream.
type StreamHandlers struct {
	OnEvent func(data json.RawMessage)
	OnError func(err error)
	OnEnd   func()
}

// Transport carries tasks to the remote agent and session views back.
type Transport interface {
	Request(ctx context.Context, task schema.SessionTask) error
	Subscribe(ctx context.Context, path string, handlers StreamHandlers) (schema.SubscriptionID, error)
	Unsubscribe(ctx context.Context, id schema.SubscriptionID) error
}

// SideEffects handles blits that do not draw: file saves and links.
type SideEffects interface {
	SaveFile(ctx context.Context, session schema.SessionName, file schema.SaveFile) error
	OpenURL(ctx context.Context, session schema.SessionName, url string) error
}

// ManagerDeps captures the collaborators of the session manager.
type ManagerDeps struct {
	Transport Transport
	Surfaces  SurfaceFactory
	Effects   SideEffects
	EventSink EventSink
	Logger    pslog.Logger
	// Ship is the local ship, used as the owner of newly opened sessions.
	Ship string
}
