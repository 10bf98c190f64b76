package activity

import (
	"context"
	"strings"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "docstore"

// Actor identifies who triggered a document operation.
type Actor struct {
	ActorID string
	UserID  string
}

type actorKey struct{}

// ContextWithActor attaches actor to ctx. Events emitted under ctx that carry
// no identity of their own are attributed to it.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Emitter sends a store's document events to its hooks.
type Emitter struct {
	hooks   Hooks
	channel string
}

// NewEmitter builds an emitter over the non-nil hooks. An empty channel
// falls back to DefaultChannel.
func NewEmitter(hooks Hooks, channel string) *Emitter {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	var kept Hooks
	for _, hook := range hooks {
		if hook != nil {
			kept = append(kept, hook)
		}
	}
	return &Emitter{hooks: kept, channel: channel}
}

// Enabled reports whether any hook is registered.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Channel returns the channel applied to events that carry none.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit fills the channel and the context actor where the event leaves them
// empty, then notifies every hook.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if strings.TrimSpace(event.ActorID) == "" {
			event.ActorID = actor.ActorID
		}
		if strings.TrimSpace(event.UserID) == "" {
			event.UserID = actor.UserID
		}
	}
	return e.hooks.Notify(ctx, event)
}
