package lock

import (
	"context"
	"errors"

	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
)

// HolderLookup resolves a holder uid to the directory user, used to explain
// conflicts.
type HolderLookup interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
}

// Deletable is any resource whose records can be protected by a lock.
type Deletable interface {
	ModelName() string
	Delete(ctx context.Context, id int64) error
}

// Request identifies a lock mutation on behalf of HolderUID.
type Request struct {
	HolderUID string
	Object    string
	ObjectID  int64

	// Takeover lets UpdateLock replace a lock held by someone else. The caller
	// sets it only after the authorization layer granted a privileged role.
	Takeover bool
}

func (r Request) validate() error {
	switch {
	case r.HolderUID == "":
		return invalidArgument("holder uid is required")
	case r.Object == "":
		return invalidArgument("object is required")
	case r.ObjectID < 0:
		return invalidArgument("object id must not be negative, got %d", r.ObjectID)
	}
	return nil
}

type CoordinatorOptions struct {
	Holders HolderLookup
	Events  Publisher
	Metrics *Metrics
	Logger  service.Logger
	Debug   bool
}

// Coordinator decides whether a lock may be acquired, renewed or released.
// It holds no state: every decision is read from and written to the Store.
//
// Expiry is enacted only by the Sweeper, so a lock older than the TTL is still
// reported as held until the next sweep removes it. The staleness window is at
// most one sweep interval.
type Coordinator struct {
	store   Store
	holders HolderLookup
	events  Publisher
	metrics *Metrics
	logger  service.Logger
	debug   bool
}

func NewCoordinator(store Store, opts CoordinatorOptions) *Coordinator {
	if opts.Events == nil {
		opts.Events = NopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = service.DefaultLogger("lock: ")
	}
	return &Coordinator{
		store:   store,
		holders: opts.Holders,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		debug:   opts.Debug,
	}
}

// Get returns the current lock for the pair or ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, object string, objectID int64) (*models.Lock, error) {
	return c.store.Get(ctx, object, objectID)
}

// NewLock acquires a lock that must not exist yet. A lost race against a
// concurrent acquirer is reported exactly like a pre-existing lock.
func (c *Coordinator) NewLock(ctx context.Context, r Request) error {
	if err := r.validate(); err != nil {
		return err
	}
	existing, err := c.store.Get(ctx, r.Object, r.ObjectID)
	if err == nil {
		c.metrics.observe("new", "conflict")
		return c.conflict(ctx, *existing)
	}
	if !errors.Is(err, ErrNotFound) {
		c.metrics.observe("new", "error")
		return err
	}

	err = c.store.Insert(ctx, r.HolderUID, r.Object, r.ObjectID)
	if errors.Is(err, ErrConstraintViolation) {
		c.metrics.observe("new", "conflict")
		return c.lostRace(ctx, r)
	}
	if err != nil {
		c.metrics.observe("new", "error")
		return err
	}
	c.metrics.observe("new", "acquired")
	c.publish(ctx, EventAcquired, r)
	return nil
}

// UpdateLock acquires the lock or renews the caller's own lock, resetting its
// timestamp. A lock held by someone else is a conflict unless r.Takeover is set.
// Only the holder observed here is replaced, so a lock acquired by a third
// party in the meantime turns into a conflict.
func (c *Coordinator) UpdateLock(ctx context.Context, r Request) error {
	if err := r.validate(); err != nil {
		return err
	}
	eventType := EventAcquired
	previousHolder := ""
	existing, err := c.store.Get(ctx, r.Object, r.ObjectID)
	switch {
	case err == nil && existing.HolderUID == r.HolderUID:
		eventType = EventRenewed
		previousHolder = existing.HolderUID
	case err == nil && !r.Takeover:
		c.metrics.observe("update", "conflict")
		return c.conflict(ctx, *existing)
	case err == nil:
		eventType = EventTakenOver
		previousHolder = existing.HolderUID
		c.logger.Printf("lock: %s takes over %s/%d from %s", r.HolderUID, r.Object, r.ObjectID, existing.HolderUID)
	case !errors.Is(err, ErrNotFound):
		c.metrics.observe("update", "error")
		return err
	}

	err = c.store.Replace(ctx, r.HolderUID, previousHolder, r.Object, r.ObjectID)
	if errors.Is(err, ErrConstraintViolation) {
		c.metrics.observe("update", "conflict")
		return c.lostRace(ctx, r)
	}
	if err != nil {
		c.metrics.observe("update", "error")
		return err
	}
	c.metrics.observe("update", string(eventType))
	c.publish(ctx, eventType, r)
	return nil
}

// DeleteLock releases the lock only if r.HolderUID holds it. Releasing a lock
// held by someone else, or no lock at all, silently does nothing.
func (c *Coordinator) DeleteLock(ctx context.Context, r Request) error {
	if err := r.validate(); err != nil {
		return err
	}
	removed, err := c.store.Delete(ctx, r.HolderUID, r.Object, r.ObjectID)
	if err != nil {
		c.metrics.observe("delete", "error")
		return err
	}
	if removed == 0 {
		c.metrics.observe("delete", "noop")
		if c.debug {
			c.logger.Printf("lock: %s holds no lock on %s/%d", r.HolderUID, r.Object, r.ObjectID)
		}
		return nil
	}
	c.metrics.observe("delete", "released")
	c.publish(ctx, EventReleased, r)
	return nil
}

func (c *Coordinator) ListByHolder(ctx context.Context, holderUID string) ([]models.Lock, error) {
	return c.store.ListByHolder(ctx, holderUID)
}

func (c *Coordinator) ListByFilter(ctx context.Context, filter models.LockFilter) ([]models.Lock, error) {
	if err := models.IsValid(filter); err != nil {
		return nil, invalidArgument("%v", err)
	}
	return c.store.ListByFilter(ctx, filter)
}

// DeleteUnlocked deletes record id of d unless it is locked, in which case the
// lock is reported as a *ConflictError and nothing is deleted.
func (c *Coordinator) DeleteUnlocked(ctx context.Context, d Deletable, id int64) error {
	existing, err := c.store.Get(ctx, d.ModelName(), id)
	if err == nil {
		c.metrics.observe("guarded_delete", "conflict")
		return c.conflict(ctx, *existing)
	}
	if !errors.Is(err, ErrNotFound) {
		c.metrics.observe("guarded_delete", "error")
		return err
	}
	if err = d.Delete(ctx, id); err != nil {
		c.metrics.observe("guarded_delete", "error")
		return err
	}
	c.metrics.observe("guarded_delete", "deleted")
	return nil
}

// lostRace reports the lock that won a concurrent acquisition. If the winner
// is already gone the conflict names only the pair.
func (c *Coordinator) lostRace(ctx context.Context, r Request) error {
	winner, err := c.store.Get(ctx, r.Object, r.ObjectID)
	if err != nil {
		return &ConflictError{Lock: models.Lock{Object: r.Object, ObjectID: r.ObjectID}}
	}
	return c.conflict(ctx, *winner)
}

func (c *Coordinator) conflict(ctx context.Context, existing models.Lock) error {
	conflict := &ConflictError{Lock: existing}
	if c.holders == nil {
		return conflict
	}
	holder, err := c.holders.FindByUID(ctx, existing.HolderUID)
	if err != nil {
		if c.debug {
			c.logger.Printf("lock: holder %s of %s/%d not resolved: %v",
				existing.HolderUID, existing.Object, existing.ObjectID, err)
		}
		return conflict
	}
	conflict.Holder = holder
	return conflict
}

func (c *Coordinator) publish(ctx context.Context, t EventType, r Request) {
	if _, ok := c.events.(nopPublisher); ok {
		return
	}
	current := &models.Lock{HolderUID: r.HolderUID, Object: r.Object, ObjectID: r.ObjectID}
	if t != EventReleased {
		if stored, err := c.store.Get(ctx, r.Object, r.ObjectID); err == nil {
			current = stored
		}
	}
	if err := c.events.Publish(ctx, newEvent(t, current)); err != nil {
		c.logger.Printf("lock: failed to publish %s event for %s/%d: %v", t, r.Object, r.ObjectID, err)
	}
}
