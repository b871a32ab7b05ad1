package logging

import (
	"context"
	"log/slog"
)

// ContextProvider supplies attributes stamped onto every record, such
// as the site name.
type ContextProvider func() []slog.Attr

// fanoutHandler delivers each record to every destination the manager
// configured (console, file, GELF). A failing destination never stops
// the others.
type fanoutHandler struct {
	dests []slog.Handler
}

func newFanoutHandler(dests ...slog.Handler) *fanoutHandler {
	kept := dests[:0]
	for _, d := range dests {
		if d != nil {
			kept = append(kept, d)
		}
	}
	return &fanoutHandler{dests: kept}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, d := range f.dests {
		if d.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, d := range f.dests {
		if !d.Enabled(ctx, r.Level) {
			continue
		}
		// Each destination may mutate the record's attrs.
		_ = d.Handle(ctx, r.Clone())
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	dests := make([]slog.Handler, len(f.dests))
	for i, d := range f.dests {
		dests[i] = d.WithAttrs(attrs)
	}
	return &fanoutHandler{dests: dests}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	dests := make([]slog.Handler, len(f.dests))
	for i, d := range f.dests {
		dests[i] = d.WithGroup(name)
	}
	return &fanoutHandler{dests: dests}
}

// contextHandler stamps the provider's attributes onto each record
// before handing it to the wrapped handler.
type contextHandler struct {
	next     slog.Handler
	provider ContextProvider
}

func newContextHandler(next slog.Handler, provider ContextProvider) *contextHandler {
	return &contextHandler{next: next, provider: provider}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), provider: h.provider}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name), provider: h.provider}
}
