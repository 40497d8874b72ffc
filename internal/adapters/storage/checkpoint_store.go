package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/sagaflow/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	counterSteps         = "steps"
	counterCompletions   = "completions"
	counterCompensations = "compensations"

	maxConflictRetries = 16
)

type Options struct {
	Dir      string
	InMemory bool
}

// CheckpointStore keeps workflow rows, step rows and the compensation log in
// badger. Every method runs in a single transaction and is retried when
// badger reports a write conflict.
type CheckpointStore struct {
	db     *badger.DB
	ownsDB bool
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open creates the badger database described by opts and owns it.
func Open(opts Options, logger *slog.Logger) (*CheckpointStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, domain.NewConfigError("data_dir", domain.ErrInvalidConfig)
		}
		badgerOpts = badger.DefaultOptions(opts.Dir)
	}
	badgerOpts.Logger = &badgerLogger{logger: logger.With("component", "badger-checkpoints")}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, domain.NewStorageError("open", opts.Dir, err)
	}

	store := NewCheckpointStore(db, logger)
	store.ownsDB = true
	return store, nil
}

// NewCheckpointStore wraps an already open database; Close leaves it open.
func NewCheckpointStore(db *badger.DB, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{
		db:     db,
		logger: logger.With("component", "checkpoint-store"),
	}
}

func (s *CheckpointStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrClosed
	}
	return nil
}

func (s *CheckpointStore) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	attempt := 0
	retry := func() error {
		attempt++
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			s.logger.Debug("transaction conflict, retrying", "op", op, "attempt", attempt)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxConflictRetries), ctx)
	return backoff.Retry(retry, policy)
}

func (s *CheckpointStore) view(fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *CheckpointStore) CreateWorkflow(ctx context.Context, record domain.WorkflowRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	key := domain.WorkflowRecordKey(record.ID)
	return s.update(ctx, "create_workflow", func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("%w: workflow %s already exists", domain.ErrInvalidInput, record.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return domain.NewStorageError("create_workflow", key, err)
		}
		return putWorkflow(txn, record)
	})
}

func (s *CheckpointStore) UpdateWorkflowStatus(ctx context.Context, workflowID string, change domain.StatusChange) error {
	return s.update(ctx, "update_status", func(txn *badger.Txn) error {
		record, err := getWorkflow(txn, workflowID)
		if err != nil {
			return err
		}
		domain.ApplyStatusChange(record, change)
		return putWorkflow(txn, *record)
	})
}

func (s *CheckpointStore) CheckpointStep(ctx context.Context, step domain.StepRecord) error {
	if step.WorkflowID == "" || step.StepName == "" {
		return fmt.Errorf("%w: step checkpoint needs workflow id and step name", domain.ErrInvalidInput)
	}

	key := domain.WorkflowStepKey(step.WorkflowID, step.StepName)
	return s.update(ctx, "checkpoint_step", func(txn *badger.Txn) error {
		if _, err := getWorkflow(txn, step.WorkflowID); err != nil {
			return err
		}

		row := step
		var existing domain.StepRecord
		found, err := getJSON(txn, key, &existing)
		if err != nil {
			return err
		}

		if found {
			row = domain.MergeStepCheckpoint(existing, step)
		} else {
			if row.StepID == "" {
				row.StepID = uuid.New().String()
			}
			order, err := incrementCounter(txn, domain.WorkflowCounterKey(step.WorkflowID, counterSteps))
			if err != nil {
				return err
			}
			row.ExecutionOrder = order
		}

		if row.NeedsCompletionOrder() {
			order, err := incrementCounter(txn, domain.WorkflowCounterKey(step.WorkflowID, counterCompletions))
			if err != nil {
				return err
			}
			row.CompletionOrder = order
		}

		row.UpdatedAt = time.Now()
		return putJSON(txn, key, row)
	})
}

func (s *CheckpointStore) LogCompensation(ctx context.Context, workflowID, stepName string, intent domain.CompensationIntent) (string, error) {
	recordID := uuid.New().String()

	err := s.update(ctx, "log_compensation", func(txn *badger.Txn) error {
		if _, err := getWorkflow(txn, workflowID); err != nil {
			return err
		}

		seq, err := incrementCounter(txn, domain.WorkflowCounterKey(workflowID, counterCompensations))
		if err != nil {
			return err
		}

		record := domain.CompensationRecord{
			ID:         recordID,
			WorkflowID: workflowID,
			StepName:   stepName,
			Intent:     intent,
			Sequence:   seq,
			Status:     domain.CompensationStatusPending,
			CreatedAt:  time.Now(),
		}

		key := domain.WorkflowCompensationKey(workflowID, seq)
		if err := putJSON(txn, key, record); err != nil {
			return err
		}
		return txn.Set([]byte(domain.WorkflowCompensationIndexKey(workflowID, recordID)), []byte(key))
	})
	if err != nil {
		return "", err
	}
	return recordID, nil
}

func (s *CheckpointStore) MarkCompensation(ctx context.Context, workflowID, recordID string, status domain.CompensationStatus, errMsg string) error {
	if status != domain.CompensationStatusExecuted && status != domain.CompensationStatusFailed {
		return fmt.Errorf("%w: compensation can only be marked executed or failed, got %q", domain.ErrInvalidInput, status)
	}

	return s.update(ctx, "mark_compensation", func(txn *badger.Txn) error {
		indexKey := domain.WorkflowCompensationIndexKey(workflowID, recordID)
		item, err := txn.Get([]byte(indexKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrCompensationNotFound, recordID)
		}
		if err != nil {
			return domain.NewStorageError("mark_compensation", indexKey, err)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return domain.NewStorageError("mark_compensation", indexKey, err)
		}

		var record domain.CompensationRecord
		found, err := getJSON(txn, string(key), &record)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", domain.ErrCompensationNotFound, recordID)
		}

		if record.Status != domain.CompensationStatusPending {
			if record.Status == status {
				return nil
			}
			return fmt.Errorf("%w: %s is %s", domain.ErrCompensationSettled, recordID, record.Status)
		}

		now := time.Now()
		record.Status = status
		record.Error = errMsg
		record.ExecutedAt = &now
		return putJSON(txn, string(key), record)
	})
}

func (s *CheckpointStore) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowRecord, error) {
	var record *domain.WorkflowRecord
	err := s.view(func(txn *badger.Txn) error {
		var err error
		record, err = getWorkflow(txn, workflowID)
		return err
	})
	return record, err
}

func (s *CheckpointStore) GetWorkflowSteps(ctx context.Context, workflowID string) ([]domain.StepRecord, error) {
	var steps []domain.StepRecord
	err := s.view(func(txn *badger.Txn) error {
		return iteratePrefix(txn, domain.WorkflowStepsPrefix(workflowID), func(key string, value []byte) error {
			var step domain.StepRecord
			if err := json.Unmarshal(value, &step); err != nil {
				return domain.NewStorageError("decode_step", key, err)
			}
			steps = append(steps, step)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].ExecutionOrder < steps[j].ExecutionOrder
	})
	return steps, nil
}

func (s *CheckpointStore) GetCompensationLog(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error) {
	var records []domain.CompensationRecord
	err := s.view(func(txn *badger.Txn) error {
		return iteratePrefix(txn, domain.WorkflowCompensationsPrefix(workflowID), func(key string, value []byte) error {
			var record domain.CompensationRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return domain.NewStorageError("decode_compensation", key, err)
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

func (s *CheckpointStore) GetCompensationStack(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error) {
	log, err := s.GetCompensationLog(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	stack := make([]domain.CompensationRecord, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Status == domain.CompensationStatusPending {
			stack = append(stack, log[i])
		}
	}
	return stack, nil
}

func (s *CheckpointStore) GetRunningWorkflows(ctx context.Context) ([]domain.WorkflowRecord, error) {
	var records []domain.WorkflowRecord
	err := s.view(func(txn *badger.Txn) error {
		return iteratePrefix(txn, domain.WorkflowActivePrefix, func(key string, _ []byte) error {
			id := key[len(domain.WorkflowActivePrefix):]
			record, err := getWorkflow(txn, id)
			if err != nil {
				if domain.IsNotFound(err) {
					s.logger.Warn("active marker without workflow row", "workflow_id", id)
					return nil
				}
				return err
			}
			if record.Status.IsActive() {
				records = append(records, *record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *CheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func getWorkflow(txn *badger.Txn, workflowID string) (*domain.WorkflowRecord, error) {
	var record domain.WorkflowRecord
	found, err := getJSON(txn, domain.WorkflowRecordKey(workflowID), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	return &record, nil
}

// putWorkflow writes the row and keeps the active marker in step with it.
func putWorkflow(txn *badger.Txn, record domain.WorkflowRecord) error {
	if err := putJSON(txn, domain.WorkflowRecordKey(record.ID), record); err != nil {
		return err
	}

	activeKey := []byte(domain.WorkflowActiveKey(record.ID))
	if record.Status.IsActive() {
		return txn.Set(activeKey, []byte(record.Status))
	}
	if err := txn.Delete(activeKey); err != nil {
		return domain.NewStorageError("clear_active", string(activeKey), err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, out interface{}) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewStorageError("get", key, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return false, domain.NewStorageError("decode", key, err)
	}
	return true, nil
}

func putJSON(txn *badger.Txn, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return domain.NewStorageError("encode", key, err)
	}
	return txn.Set([]byte(key), data)
}

func incrementCounter(txn *badger.Txn, key string) (int64, error) {
	var current int64
	item, err := txn.Get([]byte(key))
	switch {
	case err == nil:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return 0, domain.NewStorageError("counter", key, err)
		}
		if len(raw) == 8 {
			current = int64(binary.BigEndian.Uint64(raw))
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, domain.NewStorageError("counter", key, err)
	}

	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	if err := txn.Set([]byte(key), buf); err != nil {
		return 0, err
	}
	return next, nil
}

func iteratePrefix(txn *badger.Txn, prefix string, fn func(key string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		value, err := item.ValueCopy(nil)
		if err != nil {
			return domain.NewStorageError("iterate", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}
