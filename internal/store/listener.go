package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"

	"github.com/lib/pq"
)

// Notifier is the part of *pq.Listener the change stream needs.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// ListenerFactory opens a Notifier already listening on channel.
type ListenerFactory func(ctx context.Context, channel string) (Notifier, error)

// ChannelName is the NOTIFY channel the schema trigger publishes table changes on.
func ChannelName(table string) string {
	return table + "_changes"
}

// NewPQListenerFactory returns a factory backed by pq.NewListener, which
// reconnects on its own between minReconnect and maxReconnect.
func NewPQListenerFactory(dsn string, minReconnect, maxReconnect time.Duration, log logger.Logger) ListenerFactory {
	return func(ctx context.Context, channel string) (Notifier, error) {
		l := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
				log.Warn("change listener connection lost", map[string]interface{}{"channel": channel, "error": err})
			case pq.ListenerEventReconnected:
				log.Info("change listener reconnected", map[string]interface{}{"channel": channel})
			}
		})
		if err := l.Listen(channel); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	}
}

// Subscribe listens on ChannelName(table) for trigger notifications.
func (p *Postgres) Subscribe(ctx context.Context, table string, ops ...ChangeOp) (Subscription, error) {
	if p.listen == nil {
		return nil, errors.NewInvalidInputError("change stream is not configured")
	}

	n, err := p.listen(ctx, ChannelName(table))
	if err != nil {
		return nil, errors.NewTransportError("store listener", err)
	}

	sub := &notifySubscription{
		notifier: n,
		table:    table,
		ops:      ops,
		logger:   p.logger,
		events:   make(chan ChangeEvent, 64),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.exited:
		}
	}()

	p.logger.Info("subscribed to change stream", map[string]interface{}{"table": table, "channel": ChannelName(table)})
	return sub, nil
}

type notifySubscription struct {
	notifier Notifier
	table    string
	ops      []ChangeOp
	logger   logger.Logger

	events    chan ChangeEvent
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *notifySubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *notifySubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.notifier.Close()
		<-s.exited
	})
	return s.closeErr
}

func (s *notifySubscription) run() {
	defer close(s.exited)
	defer close(s.events)

	source := s.notifier.NotificationChannel()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-source:
			if !ok {
				return
			}
			ev, ok := s.decode(n)
			if !ok || !wantsOp(s.ops, ev.Op) {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// decode turns a notification into an event. pq delivers a nil notification
// after a reconnect, when changes may have been missed.
func (s *notifySubscription) decode(n *pq.Notification) (ChangeEvent, bool) {
	now := time.Now().UTC()
	if n == nil {
		return ChangeEvent{Op: OpResync, Table: s.table, ReceivedAt: now}, true
	}

	var ev ChangeEvent
	if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
		s.logger.Warn("malformed change notification", map[string]interface{}{
			"channel": n.Channel,
			"payload": n.Extra,
			"error":   err,
		})
		return ChangeEvent{}, false
	}
	if ev.Table == "" {
		ev.Table = s.table
	}
	ev.ReceivedAt = now
	return ev, true
}
