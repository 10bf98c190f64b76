package activity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// Event is one document lifecycle occurrence: a create, save, or load of a
// stored document.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	Channel    string
	Document   Document
	Metadata   map[string]any
	OccurredAt time.Time
}

// Document identifies the stored document an event refers to and the
// revision the operation produced or read.
type Document struct {
	Path         string
	Format       string
	SnapshotID   string
	ETag         string
	PreviousETag string
	// Keys lists the top-level keys a save wrote.
	Keys   []string
	Sorted bool
}

// ObjectID names the document: its path, or its snapshot for documents
// stored without one.
func (e Event) ObjectID() string {
	if e.Document.Path != "" {
		return e.Document.Path
	}
	return e.Document.SnapshotID
}

// Data flattens the document fields over Metadata into one map. Document
// fields win on a key clash.
func (e Event) Data() map[string]any {
	data := make(map[string]any, len(e.Metadata)+7)
	for key, value := range e.Metadata {
		data[key] = value
	}
	doc := e.Document
	put := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	put("path", doc.Path)
	put("format", doc.Format)
	put("snapshot_id", doc.SnapshotID)
	put("etag", doc.ETag)
	put("previous_etag", doc.PreviousETag)
	if len(doc.Keys) > 0 {
		data["keys"] = slices.Clone(doc.Keys)
	}
	if doc.Sorted {
		data["sorted"] = true
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// ActivityHook receives normalized document events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes the event and forwards it to every hook, joining their
// errors. Events without a verb or a document identity are dropped.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectID() == "" {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers, copies the slices and maps the event
// shares with its caller, and stamps OccurredAt when missing.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Verb = strings.TrimSpace(event.Verb)
	normalized.ActorID = strings.TrimSpace(event.ActorID)
	normalized.UserID = strings.TrimSpace(event.UserID)
	normalized.Channel = strings.TrimSpace(event.Channel)
	normalized.Document.Path = strings.TrimSpace(event.Document.Path)
	normalized.Document.Format = strings.ToLower(strings.TrimSpace(event.Document.Format))
	if len(event.Document.Keys) > 0 {
		normalized.Document.Keys = slices.Clone(event.Document.Keys)
	} else {
		normalized.Document.Keys = nil
	}
	normalized.Metadata = cloneMap(event.Metadata)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now().UTC()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
