package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/spike-events/spike-directory/pkg/models"
)

// SubjectPrefix roots every lock event subject.
const SubjectPrefix = "directory.locks"

type EventType string

const (
	EventAcquired  EventType = "acquired"
	EventRenewed   EventType = "renewed"
	EventTakenOver EventType = "taken_over"
	EventReleased  EventType = "released"
	EventSwept     EventType = "swept"
)

// Event describes a change of lock state. Sweep events carry Removed instead
// of a Lock.
type Event struct {
	ID      uuid.UUID    `json:"id"`
	Type    EventType    `json:"type"`
	Lock    *models.Lock `json:"lock,omitempty"`
	Removed int64        `json:"removed,omitempty"`
	Time    time.Time    `json:"time"`
}

// Subject returns the messaging subject the event is published on.
func (e Event) Subject() string {
	if e.Lock == nil {
		return SubjectPrefix + ".sweep"
	}
	return fmt.Sprintf("%s.%s.%d", SubjectPrefix, e.Lock.Object, e.Lock.ObjectID)
}

// Publisher fans lock events out to other instances and live clients.
// Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NopPublisher discards every event.
func NopPublisher() Publisher {
	return nopPublisher{}
}

func newEvent(t EventType, lock *models.Lock) Event {
	id, _ := uuid.NewV4()
	return Event{ID: id, Type: t, Lock: lock, Time: time.Now().UTC()}
}
