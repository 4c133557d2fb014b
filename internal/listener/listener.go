// Package listener translates content lifecycle events (publish,
// unpublish, delete, status transitions) into sync engine calls.
package listener

import (
	"context"
	"log/slog"

	"github.com/indexline/ingestd/internal/syncer"
)

// PublishedStatus is the only lifecycle status whose content is synced.
const PublishedStatus = "published"

// Engine is the subset of the sync engine the listener drives.
type Engine interface {
	Sync(ctx context.Context, req syncer.Request) (syncer.Result, error)
	Delete(ctx context.Context, sourceURL, botID string) error
}

// Listener reacts to content lifecycle events. It is deliberately thin:
// event routing lives here, reconciliation lives in the engine.
type Listener struct {
	engine Engine
	logger *slog.Logger
}

// New creates a Listener around the sync engine.
func New(engine Engine) *Listener {
	return &Listener{engine: engine, logger: slog.Default()}
}

// PublishEvent carries a published document's content and metadata.
type PublishEvent struct {
	Text            string `json:"text"`
	SourceURL       string `json:"source_url"`
	BotID           string `json:"bot_id,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	RoleRestriction string `json:"role_restriction,omitempty"`
}

// TransitionEvent describes a lifecycle status change. PreviousURL is
// the URL the document was stored under before the transition; it may
// differ from the current URL when a slug changed alongside the status.
type TransitionEvent struct {
	ContentID      string `json:"content_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	PreviousURL    string `json:"previous_url"`
	BotID          string `json:"bot_id,omitempty"`
}

// OnPublish syncs newly published or updated content.
func (l *Listener) OnPublish(ctx context.Context, ev PublishEvent) (syncer.Result, error) {
	return l.engine.Sync(ctx, syncer.Request{
		Text:            ev.Text,
		SourceURL:       ev.SourceURL,
		BotID:           ev.BotID,
		ContentType:     ev.ContentType,
		RoleRestriction: ev.RoleRestriction,
	})
}

// OnRemove drops a document that was unpublished, trashed, or deleted.
// Removing a document that was never synced is not an error.
func (l *Listener) OnRemove(ctx context.Context, sourceURL, botID string) error {
	return l.engine.Delete(ctx, sourceURL, botID)
}

// OnTransition reconciles a status change. Content leaving the
// published state is removed under the URL it was stored at; every
// other transition is a no-op since unpublished content was never
// synced and publishing arrives via OnPublish with the full text.
func (l *Listener) OnTransition(ctx context.Context, ev TransitionEvent) error {
	if ev.PreviousStatus != PublishedStatus || ev.NewStatus == PublishedStatus {
		l.logger.Debug("ignoring status transition",
			"content_id", ev.ContentID, "from", ev.PreviousStatus, "to", ev.NewStatus)
		return nil
	}
	if ev.PreviousURL == "" {
		return syncer.ErrMissingSourceURL
	}

	l.logger.Info("content left published state, removing",
		"content_id", ev.ContentID, "from", ev.PreviousStatus, "to", ev.NewStatus)
	return l.engine.Delete(ctx, ev.PreviousURL, ev.BotID)
}
