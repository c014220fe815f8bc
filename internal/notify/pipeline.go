package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// Presenter is the platform display adapter. Presenting a notification whose
// tag is already visible replaces it; retracting an unknown tag is a no-op.
type Presenter interface {
	Present(ctx context.Context, n Notification) error
	Retract(ctx context.Context, tag string) error
}

// ForegroundContext is an open, user-visible view that can be reused for
// navigation.
type ForegroundContext interface {
	// Focus brings the context to the front.
	Focus(ctx context.Context) error
	// Navigate performs an in-place navigation to the target.
	Navigate(ctx context.Context, target string) error
}

// ContextRegistry tracks open foreground contexts and can open new ones.
type ContextRegistry interface {
	// Find returns an open context able to display the target, if any.
	Find(ctx context.Context, target string) (ForegroundContext, bool)
	// Open creates a new foreground context at the target.
	Open(ctx context.Context, target string) error
}

// Pipeline delivers notifications and routes interactions. One visible
// notification exists per tag at any time.
type Pipeline struct {
	presenter Presenter
	contexts  ContextRegistry

	mu     sync.Mutex
	active map[string]Notification
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(presenter Presenter, contexts ContextRegistry) (*Pipeline, error) {
	if presenter == nil {
		return nil, fmt.Errorf("presenter is required")
	}
	if contexts == nil {
		return nil, fmt.Errorf("context registry is required")
	}
	return &Pipeline{
		presenter: presenter,
		contexts:  contexts,
		active:    make(map[string]Notification),
	}, nil
}

// Deliver renders one notification. A notification sharing a tag with a
// visible one replaces it.
func (p *Pipeline) Deliver(ctx context.Context, n Notification) error {
	if n.Tag == "" {
		n.Tag = DefaultTag
	}

	p.mu.Lock()
	_, replacing := p.active[n.Tag]
	p.active[n.Tag] = n
	p.mu.Unlock()

	if err := p.presenter.Present(ctx, n); err != nil {
		return fmt.Errorf("present notification %q: %w", n.Tag, err)
	}
	if replacing {
		slog.Debug("Replaced notification", "tag", n.Tag)
	}
	return nil
}

// DeliverAlerts renders a batch of proximity alerts. A failing alert is
// logged and does not block the rest of the batch.
func (p *Pipeline) DeliverAlerts(ctx context.Context, alerts []upstream.ProximityAlert) {
	for _, alert := range alerts {
		if err := p.Deliver(ctx, FromProximityAlert(alert)); err != nil {
			slog.Error("Failed to deliver proximity alert",
				"waypoint_id", alert.WaypointID,
				"error", err)
		}
	}
}

// DeliverPush decodes and renders one inbound push payload.
func (p *Pipeline) DeliverPush(ctx context.Context, raw []byte) error {
	return p.Deliver(ctx, DecodePayload(raw))
}

// HandleInteraction routes a user interaction on a visible notification.
// Dismiss retracts and does nothing further; open and navigate resolve the
// target from the notification's data and reuse an open foreground context
// when one exists. Unrecognized action identifiers fall back to the default
// open behavior, as does a bare click (empty action id).
func (p *Pipeline) HandleInteraction(ctx context.Context, tag, actionID string) error {
	p.mu.Lock()
	n, ok := p.active[tag]
	if ok {
		delete(p.active, tag)
	}
	p.mu.Unlock()

	if !ok {
		slog.Debug("Interaction on unknown notification", "tag", tag, "action", actionID)
		return nil
	}

	if err := p.presenter.Retract(ctx, tag); err != nil {
		slog.Error("Failed to retract notification", "tag", tag, "error", err)
	}

	switch actionID {
	case ActionDismiss:
		return nil
	case ActionOpen, ActionNavigate, "":
	default:
		slog.Warn("Unrecognized notification action, falling back to open",
			"tag", tag,
			"action", actionID)
	}

	target := n.Data["url"]
	if target == "" {
		target = "/"
	}
	return p.openTarget(ctx, target)
}

// openTarget reuses an already open foreground context when possible and
// only creates a new one when none exists.
func (p *Pipeline) openTarget(ctx context.Context, target string) error {
	if fg, ok := p.contexts.Find(ctx, target); ok {
		if err := fg.Focus(ctx); err != nil {
			return fmt.Errorf("focus foreground context: %w", err)
		}
		if err := fg.Navigate(ctx, target); err != nil {
			return fmt.Errorf("navigate foreground context: %w", err)
		}
		return nil
	}
	if err := p.contexts.Open(ctx, target); err != nil {
		return fmt.Errorf("open foreground context: %w", err)
	}
	return nil
}

// ActiveTags returns the tags of currently visible notifications.
func (p *Pipeline) ActiveTags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tags := make([]string, 0, len(p.active))
	for tag := range p.active {
		tags = append(tags, tag)
	}
	return tags
}
