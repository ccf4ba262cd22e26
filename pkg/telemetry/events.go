package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeConnected     = "db.connected"
	EventTypeFallback      = "db.fallback"
	EventTypeSyncCompleted = "db.sync.completed"
	EventTypeSyncFailed    = "db.sync.failed"
)

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is a notification about the database connection.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher fans events out to subscribers. A nil *Publisher drops
// everything. In async mode Publish only enqueues; a full queue drops the
// event rather than stall the database call that raised it.
type Publisher struct {
	mu   sync.RWMutex
	subs []func(Event)

	queue  chan Event
	closed chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newPublisher(cfg EventConfig) *Publisher {
	p := &Publisher{closed: make(chan struct{})}
	if cfg.Async {
		p.queue = make(chan Event, cfg.Buffer)
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Subscribe registers fn for every later event.
func (p *Publisher) Subscribe(fn func(Event)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Publish stamps e with an ID and time and delivers it.
func (p *Publisher) Publish(e Event) error {
	if p == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if p.queue == nil {
		p.deliver(e)
		return nil
	}

	select {
	case <-p.closed:
		return fmt.Errorf("event publisher closed")
	default:
	}
	select {
	case p.queue <- e:
		return nil
	default:
		return fmt.Errorf("event queue full, dropped %s", e.Type)
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case e := <-p.queue:
			p.deliver(e)
		case <-p.closed:
			for {
				select {
				case e := <-p.queue:
					p.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(e Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fn := range p.subs {
		fn(e)
	}
}

// Close stops async delivery after flushing queued events.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.once.Do(func() { close(p.closed) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher: %w", ctx.Err())
	}
}

// PublishConnected announces the active database.
func (p *Publisher) PublishConnected(mode, path, url string) error {
	data := map[string]any{"mode": mode, "path": path}
	if url != "" {
		data["url"] = url
	}
	return p.Publish(Event{
		Type:    EventTypeConnected,
		Level:   LevelInfo,
		Message: fmt.Sprintf("Database connected in %s mode", mode),
		Data:    data,
	})
}

// PublishFallback announces that the replica was given up on.
func (p *Publisher) PublishFallback(attempts int, reason string) error {
	return p.Publish(Event{
		Type:    EventTypeFallback,
		Level:   LevelWarn,
		Message: fmt.Sprintf("Replica unavailable after %d attempts, using local database", attempts),
		Data:    map[string]any{"attempts": attempts, "reason": reason},
	})
}

// PublishSyncCompleted announces a sync exchange that worked.
func (p *Publisher) PublishSyncCompleted(frames uint64, d time.Duration) error {
	return p.Publish(Event{
		Type:    EventTypeSyncCompleted,
		Level:   LevelInfo,
		Message: fmt.Sprintf("Sync completed, %d frames", frames),
		Data:    map[string]any{"frames": frames, "duration": d.Seconds()},
	})
}

// PublishSyncFailed announces a sync exchange that failed.
func (p *Publisher) PublishSyncFailed(reason string) error {
	return p.Publish(Event{
		Type:    EventTypeSyncFailed,
		Level:   LevelError,
		Message: "Sync failed: " + reason,
		Data:    map[string]any{"reason": reason},
	})
}
