package cache

import (
	"context"
	"fmt"

	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
)

// Change describes one applied push event after the reload it caused.
type Change struct {
	Event   store.ChangeEvent
	Before  *models.Application
	After   *models.Application
	Message string
}

// Watch reloads the cache for every event on sub and emits "data changed".
// It returns when ctx ends or the subscription is closed. onChange may be nil.
func (c *Cache) Watch(ctx context.Context, sub store.Subscription, onChange func(Change)) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.log.Warn("Change stream closed", nil)
				return
			}

			before, _ := c.Get(ev.ID)
			if err := c.Reload(ctx, TriggerPush); err != nil {
				continue
			}
			after, _ := c.Get(ev.ID)

			ch := Change{Event: ev, Before: before, After: after, Message: describe(ev, before, after)}
			c.log.Info(ch.Message, map[string]interface{}{"op": string(ev.Op), "id": ev.ID})
			c.NotifyChanged(TriggerPush)
			if onChange != nil {
				onChange(ch)
			}
		}
	}
}

func describe(ev store.ChangeEvent, before, after *models.Application) string {
	switch ev.Op {
	case store.OpInsert:
		if after != nil {
			return fmt.Sprintf("New application from %s (%s)", after.Name, ev.ID)
		}
		return fmt.Sprintf("New application %s", ev.ID)
	case store.OpUpdate:
		if before != nil && after != nil && before.Status != after.Status {
			return fmt.Sprintf("Application %s status changed from %s to %s", ev.ID, before.Status, after.Status)
		}
		return fmt.Sprintf("Application %s updated", ev.ID)
	case store.OpDelete:
		return fmt.Sprintf("Application %s deleted", ev.ID)
	default:
		return "Change stream resynchronised"
	}
}
