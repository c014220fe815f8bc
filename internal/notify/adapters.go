package notify

import (
	"context"
	"log/slog"
)

// LogPresenter renders notifications to the structured log. It is the
// default display adapter for the headless agent; platform embedders supply
// a Presenter backed by the host notification surface.
type LogPresenter struct{}

// NewLogPresenter creates a log-backed presenter.
func NewLogPresenter() *LogPresenter {
	return &LogPresenter{}
}

// Present logs the rendered notification.
func (*LogPresenter) Present(_ context.Context, n Notification) error {
	slog.Info("Notification",
		"tag", n.Tag,
		"title", n.Title,
		"body", n.Body,
		"require_interaction", n.RequireInteraction)
	return nil
}

// Retract logs the retraction.
func (*LogPresenter) Retract(_ context.Context, tag string) error {
	slog.Debug("Notification retracted", "tag", tag)
	return nil
}

// LogContextRegistry records navigation intents in the log. It never
// reports an open context, so every interaction resolves to Open.
type LogContextRegistry struct{}

// NewLogContextRegistry creates a log-backed context registry.
func NewLogContextRegistry() *LogContextRegistry {
	return &LogContextRegistry{}
}

// Find reports that no foreground context is open.
func (*LogContextRegistry) Find(_ context.Context, _ string) (ForegroundContext, bool) {
	return nil, false
}

// Open logs the navigation target.
func (*LogContextRegistry) Open(_ context.Context, target string) error {
	slog.Info("Open foreground context", "target", target)
	return nil
}
