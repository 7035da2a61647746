package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nfcunha/orchestrator/core/models"
	"nfcunha/orchestrator/core/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ContainerRuntime performs lifecycle side effects on the engine.
type ContainerRuntime interface {
	StartNew(ctx context.Context, imageRef, name string, cmd []string) (string, error)
	Start(ctx context.Context, engineID string) error
	Stop(ctx context.Context, engineID string) error
	Remove(ctx context.Context, engineID string) error
	Inspect(ctx context.Context, engineID string) (*RuntimeState, error)
}

// ImageResolver checks image references at creation time.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (*models.Image, error)
}

// CreateRequest describes a container to create.
type CreateRequest struct {
	Image   string
	Name    string
	Command []string
}

type containerEntry struct {
	// sem serializes lifecycle operations on one container. Holding it
	// is the only way to change the record.
	sem chan struct{}

	// guarded by ContainerRegistry.mu
	record    *models.Container
	removedAt time.Time
	gone      bool
}

func newContainerEntry(c *models.Container) *containerEntry {
	return &containerEntry{sem: make(chan struct{}, 1), record: c}
}

func (e *containerEntry) release() {
	<-e.sem
}

// ContainerRegistry is the source of truth for containers created by the
// orchestrator. Operations on one container are totally ordered; operations
// on different containers run in parallel.
type ContainerRegistry struct {
	runtime   ContainerRuntime
	images    ImageResolver
	store     repository.ContainerStore
	audit     *AuditService
	retention time.Duration
	now       func() time.Time
	newID     func() string

	mu      sync.RWMutex
	entries map[string]*containerEntry
	order   []string
}

// NewContainerRegistry creates an empty registry. store may be nil.
// Removed records stay visible to log readers for retention before being purged.
func NewContainerRegistry(runtime ContainerRuntime, images ImageResolver, store repository.ContainerStore, audit *AuditService, retention time.Duration) *ContainerRegistry {
	return &ContainerRegistry{
		runtime:   runtime,
		images:    images,
		store:     store,
		audit:     audit,
		retention: retention,
		now:       time.Now,
		newID:     uuid.NewString,
		entries:   make(map[string]*containerEntry),
	}
}

// Load restores persisted records in creation order.
func (r *ContainerRegistry) Load() error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.List()
	if err != nil {
		return fmt.Errorf("failed to load containers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, c := range records {
		if !c.Status.Valid() || c.Status.Terminal() {
			logrus.WithField("container", c.ID).Warnf("Skipping stored container with status %q", c.Status)
			continue
		}
		if _, exists := r.entries[c.ID]; exists {
			continue
		}
		r.entries[c.ID] = newContainerEntry(c.Clone())
		r.order = append(r.order, c.ID)
		loaded++
	}

	logrus.Infof("Loaded %d containers from store", loaded)
	return nil
}

// Create resolves the image, records the container as Created and starts it.
// On failure no record is left behind.
func (r *ContainerRegistry) Create(ctx context.Context, req CreateRequest) (*models.Container, error) {
	imageRef := strings.TrimSpace(req.Image)
	if imageRef == "" {
		return nil, fmt.Errorf("%w: image is required", ErrValidation)
	}
	if _, err := r.images.Resolve(ctx, imageRef); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("container-%d", r.now().Unix())
	}

	record := &models.Container{
		ID:        r.newID(),
		Name:      name,
		Status:    models.StatusCreated,
		Image:     imageRef,
		CreatedAt: r.now().UTC(),
		Command:   req.Command,
	}
	entry := newContainerEntry(record)
	entry.sem <- struct{}{}
	defer entry.release()

	r.mu.Lock()
	r.entries[record.ID] = entry
	r.order = append(r.order, record.ID)
	r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"container": record.ID, "name": name, "image": imageRef})

	engineID, err := r.runtime.StartNew(ctx, imageRef, name, req.Command)
	if err != nil {
		r.forget(entry, record.ID)
		log.Warnf("Failed to create container: %v", err)
		return nil, r.audit.logAction(ctx, "create", "container", record.ID, name, err)
	}

	created := r.commit(entry, func(c *models.Container) {
		c.EngineID = engineID
		c.Status = models.StatusRunning
	})

	log.Info("Container created")
	r.audit.logAction(ctx, "create", "container", created.ID, name, nil)
	return created, nil
}

// List returns all non-removed containers in creation order.
func (r *ContainerRegistry) List() []*models.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Container, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		if e == nil || e.record.Status == models.StatusRemoved {
			continue
		}
		out = append(out, e.record.Clone())
	}
	return out
}

// Get returns a container; ErrNotFound when unknown or removed.
func (r *ContainerRegistry) Get(id string) (*models.Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || e.record.Status == models.StatusRemoved {
		return nil, notFound(id)
	}
	return e.record.Clone(), nil
}

// SetStatus moves a container to Running or Stopped. Asking for the current
// status is a no-op; the record only changes after the runtime confirms.
func (r *ContainerRegistry) SetStatus(ctx context.Context, id string, desired models.ContainerStatus) (*models.Container, error) {
	if desired != models.StatusRunning && desired != models.StatusStopped {
		return nil, fmt.Errorf("%w: status must be running or stopped, got %q", ErrValidation, desired)
	}

	entry, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer entry.release()

	current := r.snapshot(entry)
	if current.Status == desired {
		return current, nil
	}
	if !current.Status.CanTransitionTo(desired) {
		return nil, fmt.Errorf("%w: cannot move container %s from %s to %s", ErrConflict, id, current.Status, desired)
	}

	action, op := "start", r.runtime.Start
	if desired == models.StatusStopped {
		action, op = "stop", r.runtime.Stop
	}

	log := logrus.WithFields(logrus.Fields{"container": id, "action": action})
	if err := op(ctx, current.EngineID); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.markVanished(ctx, entry, current)
			r.audit.logAction(ctx, action, "container", id, current.Name, err)
			return nil, notFound(id)
		}
		log.Warnf("Failed to %s container: %v", action, err)
		return nil, r.audit.logAction(ctx, action, "container", id, current.Name, err)
	}

	updated := r.commit(entry, func(c *models.Container) {
		c.Status = desired
	})

	log.Infof("Container %s", strings.ToLower(string(desired)))
	r.audit.logAction(ctx, action, "container", id, current.Name, nil)
	return updated, nil
}

// Delete stops a running container, removes it from the engine and marks it
// Removed. Deleting an already removed container is ErrNotFound.
func (r *ContainerRegistry) Delete(ctx context.Context, id string) error {
	entry, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer entry.release()

	current := r.snapshot(entry)
	if current.Status == models.StatusRemoved {
		return notFound(id)
	}

	log := logrus.WithField("container", id)

	if current.Status == models.StatusRunning {
		err := r.runtime.Stop(ctx, current.EngineID)
		switch {
		case errors.Is(err, ErrNotFound):
			// nothing left to stop; the forced remove below still runs
			log.Warn("Container already gone from the engine before stop")
		case err != nil:
			log.Warnf("Failed to stop container before removal: %v", err)
			return r.audit.logAction(ctx, "stop", "container", id, current.Name, err)
		default:
			r.commit(entry, func(c *models.Container) {
				c.Status = models.StatusStopped
			})
			r.audit.logAction(ctx, "stop", "container", id, current.Name, nil)
		}
	}

	if err := r.runtime.Remove(ctx, current.EngineID); err != nil {
		log.Warnf("Failed to remove container: %v", err)
		return r.audit.logAction(ctx, "remove", "container", id, current.Name, err)
	}

	r.commit(entry, func(c *models.Container) {
		c.Status = models.StatusRemoved
	})

	log.Info("Container removed")
	return r.audit.logAction(ctx, "remove", "container", id, current.Name, nil)
}

// LogTarget returns the engine id to read logs from. Removed containers are
// reported until their tombstone is purged.
func (r *ContainerRegistry) LogTarget(id string) (engineID string, removed bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", false, notFound(id)
	}
	return e.record.EngineID, e.record.Status == models.StatusRemoved, nil
}

// Reconcile compares each container with the engine and applies the observed
// status when it is a legal transition. Containers with an operation in flight
// are skipped. Returns the number of corrected records.
func (r *ContainerRegistry) Reconcile(ctx context.Context) int {
	r.mu.RLock()
	candidates := make([]*containerEntry, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e != nil && e.record.Status != models.StatusRemoved {
			candidates = append(candidates, e)
		}
	}
	r.mu.RUnlock()

	corrected := 0
	for _, e := range candidates {
		if ctx.Err() != nil {
			break
		}
		select {
		case e.sem <- struct{}{}:
		default:
			continue
		}
		if r.reconcileOne(ctx, e) {
			corrected++
		}
		e.release()
	}
	return corrected
}

func (r *ContainerRegistry) reconcileOne(ctx context.Context, e *containerEntry) bool {
	r.mu.RLock()
	gone := e.gone
	r.mu.RUnlock()
	if gone {
		return false
	}

	current := r.snapshot(e)
	if current.Status == models.StatusRemoved || current.EngineID == "" {
		return false
	}

	var observed models.ContainerStatus
	state, err := r.runtime.Inspect(ctx, current.EngineID)
	switch {
	case errors.Is(err, ErrNotFound):
		observed = models.StatusRemoved
	case err != nil:
		logrus.WithField("container", current.ID).Debugf("Reconcile inspect failed: %v", err)
		return false
	default:
		observed = state.Status
	}

	if observed == current.Status || !current.Status.CanTransitionTo(observed) {
		return false
	}

	r.commit(e, func(c *models.Container) {
		c.Status = observed
	})

	msg := fmt.Sprintf("Container %s status corrected from %s to %s", current.Name, current.Status, observed)
	logrus.WithField("container", current.ID).Info(msg)
	r.audit.logEvent(ctx, "reconcile", "warning", msg, map[string]string{
		"container_id": current.ID,
		"from":         string(current.Status),
		"to":           string(observed),
	})
	return true
}

// markVanished records that the engine lost a container behind our back.
func (r *ContainerRegistry) markVanished(ctx context.Context, e *containerEntry, current *models.Container) {
	r.commit(e, func(c *models.Container) {
		c.Status = models.StatusRemoved
	})

	msg := fmt.Sprintf("Container %s no longer exists in the engine, marked removed", current.Name)
	logrus.WithField("container", current.ID).Warn(msg)
	r.audit.logEvent(ctx, "reconcile", "warning", msg, map[string]string{
		"container_id": current.ID,
		"from":         string(current.Status),
		"to":           string(models.StatusRemoved),
	})
}

// PurgeRemoved drops tombstones of containers removed longer than the retention ago.
func (r *ContainerRegistry) PurgeRemoved() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for _, id := range r.order {
		e := r.entries[id]
		if e == nil || e.record.Status != models.StatusRemoved || e.removedAt.After(cutoff) {
			continue
		}
		e.gone = true
		delete(r.entries, id)
		purged++
	}
	if purged > 0 {
		r.order = lo.Filter(r.order, func(id string, _ int) bool {
			_, ok := r.entries[id]
			return ok
		})
		logrus.Debugf("Purged %d removed containers", purged)
	}
	return purged
}

// acquire waits for exclusive access to a container. A caller whose context
// ends while waiting gets ErrConflict.
func (r *ContainerRegistry) acquire(ctx context.Context, id string) (*containerEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: container %s is busy: %w", ErrConflict, id, ctx.Err())
	}

	r.mu.RLock()
	gone := e.gone
	r.mu.RUnlock()
	if gone {
		e.release()
		return nil, notFound(id)
	}
	return e, nil
}

func (r *ContainerRegistry) snapshot(e *containerEntry) *models.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.record.Clone()
}

// commit applies mutate to a copy of the record, publishes it and writes it
// through to the store. The caller must hold e.sem.
func (r *ContainerRegistry) commit(e *containerEntry, mutate func(c *models.Container)) *models.Container {
	r.mu.Lock()
	next := e.record.Clone()
	mutate(next)
	e.record = next
	if next.Status == models.StatusRemoved {
		e.removedAt = r.now()
	}
	r.mu.Unlock()

	r.persist(next)
	return next.Clone()
}

func (r *ContainerRegistry) persist(c *models.Container) {
	if r.store == nil {
		return
	}

	var err error
	if c.Status == models.StatusRemoved {
		err = r.store.Delete(c.ID)
	} else {
		err = r.store.Save(c)
	}
	if err != nil {
		logrus.WithField("container", c.ID).Errorf("Failed to persist container: %v", err)
	}
}

// forget drops a record that never reached the engine.
func (r *ContainerRegistry) forget(e *containerEntry, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.gone = true
	delete(r.entries, id)
	r.order = lo.Without(r.order, id)
}

func notFound(id string) error {
	return fmt.Errorf("%w: container %s", ErrNotFound, id)
}
