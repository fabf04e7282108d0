package core

import (
	"context"
	"strings"

	"pkt.systems/hermterm/internal/ansi"
)

// Update is one raw display fragment queued for a session. Raw updates are
// out-of-band lines that bypass echo matching.
type Update struct {
	Fragment string
	Raw      bool
}

// Reconciler applies remote display fragments to a surface, suppressing the
// ones the echo predictor already rendered.
type Reconciler struct {
	session *Session
	surface Surface
}

// NewReconciler binds a reconciler to a session and its surface.
func NewReconciler(session *Session, surface Surface) *Reconciler {
	return &Reconciler{session: session, surface: surface}
}

// Apply processes one update. It returns after the surface acknowledged every
// write the update caused, so callers can apply updates strictly in order.
func (r *Reconciler) Apply(ctx context.Context, update Update) error {
	s := r.session
	fragment := update.Fragment
	if update.Raw {
		return r.write(ctx, fragment)
	}
	if fragment == ansi.Bell {
		s.Echo.Clear()
		return r.surface.Write(ctx, fragment)
	}
	if head, ok := s.Echo.Head(); ok && head.Matches(fragment) {
		s.Echo.Shift()
		return nil
	}
	text := ansi.IsTextUpdate(fragment)
	continued := strings.HasPrefix(fragment, ">")
	if !text && !continued && s.Content != "" {
		return r.write(ctx, fragment)
	}
	if s.Content == "" {
		r.surface.Fit()
	}
	rewrite := []string{
		ansi.Reposition(r.surface.Rows(), 1),
		ansi.CSI("K", 2) + ansi.CSI("u"),
		fragment,
	}
	for _, data := range rewrite {
		if err := r.surface.Write(ctx, data); err != nil {
			return err
		}
	}
	if text || continued {
		s.Content = fragment
	}
	s.Echo.Clear()
	s.Cursor = r.surface.Cursor()
	return nil
}

func (r *Reconciler) write(ctx context.Context, data string) error {
	if err := r.surface.Write(ctx, data); err != nil {
		return err
	}
	r.session.Cursor = r.surface.Cursor()
	return nil
}
