// Package queue provides the durable outbox of mutations awaiting remote
// confirmation.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/replica"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// DefaultMaxRetries is the retry cap applied to new items.
const DefaultMaxRetries = 3

// Stats summarizes the queue.
type Stats struct {
	Total    int `json:"total" yaml:"total"`
	Pending  int `json:"pending" yaml:"pending"`
	InFlight int `json:"inFlight" yaml:"inFlight"`
	Parked   int `json:"parked" yaml:"parked"`
}

// SyncQueue is an ordered, durable list of queued mutations. Items are kept
// in enqueue order and every change is persisted before it becomes visible.
// Items that exhaust their retries are parked, never dropped.
type SyncQueue struct {
	mu         sync.RWMutex
	blobs      replica.Blobs
	items      []models.QueueItem
	inFlight   map[string]bool
	maxRetries int

	now func() time.Time
}

// NewSyncQueue loads the queue persisted in blobs.
func NewSyncQueue(blobs replica.Blobs, maxRetries int) (*SyncQueue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	q := &SyncQueue{
		blobs:      blobs,
		inFlight:   make(map[string]bool),
		maxRetries: maxRetries,
		now:        time.Now,
	}

	data, ok, err := blobs.Get(replica.KeyQueue)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "read sync queue", err)
	}
	if ok && len(data) > 0 {
		if err := json.Unmarshal(data, &q.items); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "decode sync queue", err)
		}
	}
	return q, nil
}

// commit persists next and swaps it in. Callers hold the write lock.
func (q *SyncQueue) commit(next []models.QueueItem) error {
	if next == nil {
		next = []models.QueueItem{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "encode sync queue", err)
	}
	if err := q.blobs.SetMany(map[string][]byte{replica.KeyQueue: data}); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "persist sync queue", err)
	}
	q.items = next
	return nil
}

// Checkpoint returns the committed items so Rollback can return to them.
// Committed slices are never mutated in place.
func (q *SyncQueue) Checkpoint() []models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.items
}

// Rollback restores the in-memory queue to cp without writing. It pairs with
// an aborted or failed replica.Batch.
func (q *SyncQueue) Rollback(cp []models.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = cp
}

func (q *SyncQueue) copyItems() []models.QueueItem {
	next := make([]models.QueueItem, len(q.items), len(q.items)+1)
	for i, item := range q.items {
		next[i] = item.Clone()
	}
	return next
}

func (q *SyncQueue) indexOf(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Enqueue appends a mutation. payload is stored as JSON; a json.RawMessage is
// stored as is.
func (q *SyncQueue) Enqueue(op models.Operation, entityID string, payload interface{}) (models.QueueItem, error) {
	if !op.Valid() {
		return models.QueueItem{}, apperrors.Validation("unknown operation: " + string(op))
	}
	if entityID == "" {
		return models.QueueItem{}, apperrors.Validation("entity id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.QueueItem{}, apperrors.Wrap(apperrors.ErrValidation, "encode payload", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := models.QueueItem{
		ID:         uuid.New(),
		Operation:  op,
		EntityID:   entityID,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
		MaxRetries: q.maxRetries,
	}
	if err := q.commit(append(q.copyItems(), item)); err != nil {
		return models.QueueItem{}, err
	}

	logging.Debug("Enqueued operation", map[string]interface{}{
		"item_id":   item.ID,
		"operation": string(op),
		"entity_id": entityID,
	})
	return item.Clone(), nil
}

// Remove deletes an item.
func (q *SyncQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return apperrors.NotFound("queue item", id)
	}
	next := q.copyItems()
	next = append(next[:i], next[i+1:]...)
	if err := q.commit(next); err != nil {
		return err
	}
	delete(q.inFlight, id)
	return nil
}

// List returns every item in enqueue order.
func (q *SyncQueue) List() []models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.copyItems()
}

// Get returns one item.
func (q *SyncQueue) Get(id string) (models.QueueItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	i := q.indexOf(id)
	if i < 0 {
		return models.QueueItem{}, apperrors.NotFound("queue item", id)
	}
	return q.items[i].Clone(), nil
}

// Len returns the number of queued items, parked ones included.
func (q *SyncQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// IncrementRetry records a failed submission. When the item reaches its
// retry cap it is parked and the returned error carries ErrItemParked.
func (q *SyncQueue) IncrementRetry(id string, cause error) (models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return models.QueueItem{}, apperrors.NotFound("queue item", id)
	}
	next := q.copyItems()
	item := &next[i]
	if item.RetryCount < item.MaxRetries {
		item.RetryCount++
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	if err := q.commit(next); err != nil {
		return models.QueueItem{}, err
	}

	if item.Parked() {
		logging.Warn("Operation parked after exhausting retries", map[string]interface{}{
			"item_id":     item.ID,
			"operation":   string(item.Operation),
			"entity_id":   item.EntityID,
			"max_retries": item.MaxRetries,
		})
		return item.Clone(), apperrors.Wrap(apperrors.ErrItemParked,
			fmt.Sprintf("max retries (%d) reached", item.MaxRetries), cause)
	}
	logging.Info("Operation failed, will retry", map[string]interface{}{
		"item_id":   item.ID,
		"operation": string(item.Operation),
		"retry":     item.RetryCount,
		"max":       item.MaxRetries,
	})
	return item.Clone(), nil
}

// Parked returns the items that exhausted their retries.
func (q *SyncQueue) Parked() []models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var parked []models.QueueItem
	for _, item := range q.items {
		if item.Parked() {
			parked = append(parked, item.Clone())
		}
	}
	return parked
}

// Requeue resets an item's retry count so the next pass submits it again.
func (q *SyncQueue) Requeue(id string) (models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return models.QueueItem{}, apperrors.NotFound("queue item", id)
	}
	next := q.copyItems()
	next[i].RetryCount = 0
	next[i].LastError = ""
	if err := q.commit(next); err != nil {
		return models.QueueItem{}, err
	}

	logging.Info("Requeued operation", map[string]interface{}{"item_id": id})
	return next[i].Clone(), nil
}

// Acknowledge discards a parked item. Items that are still eligible for
// replay cannot be acknowledged.
func (q *SyncQueue) Acknowledge(id string) (models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return models.QueueItem{}, apperrors.NotFound("queue item", id)
	}
	item := q.items[i].Clone()
	if !item.Parked() {
		return models.QueueItem{}, apperrors.Newf(apperrors.ErrValidation, "queue item %s is not parked", id)
	}
	next := q.copyItems()
	next = append(next[:i], next[i+1:]...)
	if err := q.commit(next); err != nil {
		return models.QueueItem{}, err
	}

	logging.Warn("Parked operation acknowledged and discarded", map[string]interface{}{
		"item_id":    item.ID,
		"operation":  string(item.Operation),
		"entity_id":  item.EntityID,
		"last_error": item.LastError,
	})
	return item, nil
}

// Clear removes every item.
func (q *SyncQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.commit(nil); err != nil {
		return err
	}
	q.inFlight = make(map[string]bool)
	logging.Info("Sync queue cleared", nil)
	return nil
}

// RewriteEntityID replaces oldID with newID as the target of queued items
// and wherever payloads reference it as "id" or "folderId". It returns the
// number of items changed.
func (q *SyncQueue) RewriteEntityID(oldID, newID string) (int, error) {
	if oldID == newID {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.copyItems()
	changed := 0
	for i := range next {
		item := &next[i]
		touched := false
		if item.EntityID == oldID {
			item.EntityID = newID
			touched = true
		}
		payload, ok, err := rewritePayload(item.Payload, oldID, newID)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.ErrPersistence, "rewrite payload of "+item.ID, err)
		}
		if ok {
			item.Payload = payload
			touched = true
		}
		if touched {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := q.commit(next); err != nil {
		return 0, err
	}

	logging.Debug("Rewrote queued references", map[string]interface{}{
		"from":  oldID,
		"to":    newID,
		"items": changed,
	})
	return changed, nil
}

var referenceFields = []string{"id", "folderId"}

func rewritePayload(payload json.RawMessage, oldID, newID string) (json.RawMessage, bool, error) {
	if len(payload) == 0 {
		return payload, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false, err
	}

	oldRaw, _ := json.Marshal(oldID)
	newRaw, _ := json.Marshal(newID)
	changed := false
	for _, name := range referenceFields {
		if v, ok := fields[name]; ok && string(v) == string(oldRaw) {
			fields[name] = newRaw
			changed = true
		}
	}
	if !changed {
		return payload, false, nil
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// PendingFor returns the items targeting entityID in enqueue order.
func (q *SyncQueue) PendingFor(entityID string) []models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []models.QueueItem
	for _, item := range q.items {
		if item.EntityID == entityID {
			out = append(out, item.Clone())
		}
	}
	return out
}

// HasPending reports whether any item targets entityID.
func (q *SyncQueue) HasPending(entityID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, item := range q.items {
		if item.EntityID == entityID {
			return true
		}
	}
	return false
}

// Stats returns counts by state.
func (q *SyncQueue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{Total: len(q.items)}
	for _, item := range q.items {
		switch {
		case q.inFlight[item.ID]:
			stats.InFlight++
		case item.Parked():
			stats.Parked++
		default:
			stats.Pending++
		}
	}
	return stats
}

// CancelCreate drops every item of an entity whose creation has not reached
// the remote yet, so a create followed by a delete never leaves the device.
// It reports false, changing nothing, when the entity has no queued create
// or one of its items is being submitted or parked. Parked items leave the
// queue only through Acknowledge.
func (q *SyncQueue) CancelCreate(entityID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	hasCreate := false
	for _, item := range q.items {
		if item.EntityID != entityID {
			continue
		}
		if q.inFlight[item.ID] || item.Parked() {
			return false, nil
		}
		if item.Operation.IsCreate() {
			hasCreate = true
		}
	}
	if !hasCreate {
		return false, nil
	}

	next := make([]models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		if item.EntityID != entityID {
			next = append(next, item.Clone())
		}
	}
	if err := q.commit(next); err != nil {
		return false, err
	}

	logging.Debug("Cancelled unsubmitted create", map[string]interface{}{"entity_id": entityID})
	return true, nil
}

// SquashUpdate replaces the payload of the entity's trailing update when
// that update is neither in flight nor parked. It reports false when a new
// item must be enqueued instead.
func (q *SyncQueue) SquashUpdate(entityID string, payload interface{}) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrValidation, "encode payload", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	last := -1
	for i := range q.items {
		if q.items[i].EntityID == entityID {
			last = i
		}
	}
	if last < 0 {
		return false, nil
	}
	tail := q.items[last]
	if !tail.Operation.IsUpdate() || tail.Parked() || q.inFlight[tail.ID] {
		return false, nil
	}

	next := q.copyItems()
	next[last].Payload = raw
	if err := q.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// DropUpdates removes the entity's queued updates that are neither in flight
// nor parked. A delete makes them moot, and one that still references an
// unconfirmed folder would otherwise hold the delete back. It returns the
// number of items removed.
func (q *SyncQueue) DropUpdates(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.QueueItem, 0, len(q.items))
	dropped := 0
	for _, item := range q.items {
		if item.EntityID == entityID && item.Operation.IsUpdate() && !item.Parked() && !q.inFlight[item.ID] {
			dropped++
			continue
		}
		next = append(next, item.Clone())
	}
	if dropped == 0 {
		return 0, nil
	}
	if err := q.commit(next); err != nil {
		return 0, err
	}
	return dropped, nil
}

// DropEntity removes the entity's items that are neither in flight nor
// parked. It is used once the entity can never be submitted, after its
// parked creation was acknowledged.
func (q *SyncQueue) DropEntity(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.QueueItem, 0, len(q.items))
	dropped := 0
	for _, item := range q.items {
		if item.EntityID == entityID && !item.Parked() && !q.inFlight[item.ID] {
			dropped++
			continue
		}
		next = append(next, item.Clone())
	}
	if dropped == 0 {
		return 0, nil
	}
	if err := q.commit(next); err != nil {
		return 0, err
	}
	return dropped, nil
}

// Begin marks items as being submitted.
func (q *SyncQueue) Begin(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.inFlight[id] = true
	}
}

// End clears the in-flight mark of an item.
func (q *SyncQueue) End(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

// InFlight reports whether an item is being submitted.
func (q *SyncQueue) InFlight(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.inFlight[id]
}
