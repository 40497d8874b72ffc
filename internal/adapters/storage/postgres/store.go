package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var _ ports.CheckpointStore = (*Store)(nil)

// Store is the PostgreSQL checkpoint store. Writes that read before they
// write lock the workflow row with SELECT ... FOR UPDATE.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New connects using cfg.DSN and owns the resulting pool.
func New(ctx context.Context, cfg domain.PostgresConfig, opts ...Option) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, domain.NewConfigError("storage.postgres.dsn", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, domain.NewStorageError("connect", "", err)
	}

	s := NewFromPool(pool, opts...)
	s.ownsPool = true
	return s, nil
}

func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "postgres-checkpoints")
	return s
}

// Migrate creates the workflows, workflow_steps and compensation_log tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return domain.NewStorageError("migrate", "", err)
	}
	s.logger.Debug("schema ready")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *Store) CreateWorkflow(ctx context.Context, record domain.WorkflowRecord) error {
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

	principal, err := json.Marshal(record.Principal)
	if err != nil {
		return domain.NewStorageError("encode_principal", record.ID, err)
	}
	spec, err := json.Marshal(record.Spec)
	if err != nil {
		return domain.NewStorageError("encode_spec", record.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, version, owner, principal, status, spec, created_at, updated_at,
			started_at, completed_at, error_message, rollback_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.Name, record.Version, record.Owner, principal, string(record.Status), spec,
		record.CreatedAt, record.UpdatedAt, record.StartedAt, record.CompletedAt,
		record.ErrorMessage, record.RollbackReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: workflow %s already exists", domain.ErrInvalidInput, record.ID)
		}
		return domain.NewStorageError("create_workflow", record.ID, err)
	}
	return nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, workflowID string, change domain.StatusChange) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		record, err := scanWorkflow(tx.QueryRow(ctx, selectWorkflow+` WHERE id = $1 FOR UPDATE`, workflowID))
		if err != nil {
			return notFound(err, workflowID)
		}

		domain.ApplyStatusChange(record, change)

		_, err = tx.Exec(ctx, `
			UPDATE workflows
			SET status = $2, updated_at = $3, started_at = $4, completed_at = $5,
				error_message = $6, rollback_reason = $7
			WHERE id = $1`,
			workflowID, string(record.Status), record.UpdatedAt, record.StartedAt, record.CompletedAt,
			record.ErrorMessage, record.RollbackReason,
		)
		if err != nil {
			return domain.NewStorageError("update_status", workflowID, err)
		}
		return nil
	})
}

func (s *Store) CheckpointStep(ctx context.Context, step domain.StepRecord) error {
	if step.WorkflowID == "" || step.StepName == "" {
		return fmt.Errorf("%w: step checkpoint needs workflow id and step name", domain.ErrInvalidInput)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var stepSeq, completionSeq int64
		err := tx.QueryRow(ctx,
			`SELECT step_seq, completion_seq FROM workflows WHERE id = $1 FOR UPDATE`,
			step.WorkflowID,
		).Scan(&stepSeq, &completionSeq)
		if err != nil {
			return notFound(err, step.WorkflowID)
		}

		row := step
		existing, err := scanStep(tx.QueryRow(ctx, selectStep+` WHERE workflow_id = $1 AND step_name = $2`,
			step.WorkflowID, step.StepName))
		switch {
		case err == nil:
			row = domain.MergeStepCheckpoint(*existing, step)
		case errors.Is(err, pgx.ErrNoRows):
			if row.StepID == "" {
				row.StepID = uuid.New().String()
			}
			stepSeq++
			row.ExecutionOrder = stepSeq
		default:
			return domain.NewStorageError("load_step", step.StepName, err)
		}

		if row.NeedsCompletionOrder() {
			completionSeq++
			row.CompletionOrder = completionSeq
		}
		row.UpdatedAt = time.Now()

		if _, err := tx.Exec(ctx,
			`UPDATE workflows SET step_seq = $2, completion_seq = $3 WHERE id = $1`,
			step.WorkflowID, stepSeq, completionSeq,
		); err != nil {
			return domain.NewStorageError("bump_sequence", step.WorkflowID, err)
		}

		inputs, err := encodeMap(row.Inputs)
		if err != nil {
			return domain.NewStorageError("encode_inputs", step.StepName, err)
		}
		outputs, err := encodeMap(row.Outputs)
		if err != nil {
			return domain.NewStorageError("encode_outputs", step.StepName, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_steps (workflow_id, step_name, step_id, kind, status, inputs, outputs,
				execution_order, completion_order, attempts, error, approved, started_at, completed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (workflow_id, step_name) DO UPDATE SET
				kind = EXCLUDED.kind,
				status = EXCLUDED.status,
				inputs = EXCLUDED.inputs,
				outputs = EXCLUDED.outputs,
				completion_order = EXCLUDED.completion_order,
				attempts = EXCLUDED.attempts,
				error = EXCLUDED.error,
				approved = EXCLUDED.approved,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				updated_at = EXCLUDED.updated_at`,
			row.WorkflowID, row.StepName, row.StepID, string(row.Kind), string(row.Status), inputs, outputs,
			row.ExecutionOrder, row.CompletionOrder, row.Attempts, row.Error, row.Approved,
			row.StartedAt, row.CompletedAt, row.UpdatedAt,
		)
		if err != nil {
			return domain.NewStorageError("checkpoint_step", step.StepName, err)
		}
		return nil
	})
}

func (s *Store) LogCompensation(ctx context.Context, workflowID, stepName string, intent domain.CompensationIntent) (string, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return "", domain.NewStorageError("encode_intent", stepName, err)
	}

	recordID := uuid.New().String()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO compensation_log (record_id, workflow_id, step_name, intent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		recordID, workflowID, stepName, payload, string(domain.CompensationStatusPending), time.Now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return "", fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
		}
		return "", domain.NewStorageError("log_compensation", workflowID, err)
	}
	return recordID, nil
}

func (s *Store) MarkCompensation(ctx context.Context, workflowID, recordID string, status domain.CompensationStatus, errMsg string) error {
	if status != domain.CompensationStatusExecuted && status != domain.CompensationStatusFailed {
		return fmt.Errorf("%w: compensation can only be marked executed or failed, got %q", domain.ErrInvalidInput, status)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx,
			`SELECT status FROM compensation_log WHERE workflow_id = $1 AND record_id = $2 FOR UPDATE`,
			workflowID, recordID,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrCompensationNotFound, recordID)
		}
		if err != nil {
			return domain.NewStorageError("mark_compensation", recordID, err)
		}

		if domain.CompensationStatus(current) != domain.CompensationStatusPending {
			if domain.CompensationStatus(current) == status {
				return nil
			}
			return fmt.Errorf("%w: %s is %s", domain.ErrCompensationSettled, recordID, current)
		}

		_, err = tx.Exec(ctx,
			`UPDATE compensation_log SET status = $3, error = $4, executed_at = $5 WHERE workflow_id = $1 AND record_id = $2`,
			workflowID, recordID, string(status), errMsg, time.Now(),
		)
		if err != nil {
			return domain.NewStorageError("mark_compensation", recordID, err)
		}
		return nil
	})
}

func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowRecord, error) {
	record, err := scanWorkflow(s.pool.QueryRow(ctx, selectWorkflow+` WHERE id = $1`, workflowID))
	if err != nil {
		return nil, notFound(err, workflowID)
	}
	return record, nil
}

func (s *Store) GetWorkflowSteps(ctx context.Context, workflowID string) ([]domain.StepRecord, error) {
	rows, err := s.pool.Query(ctx, selectStep+` WHERE workflow_id = $1 ORDER BY execution_order`, workflowID)
	if err != nil {
		return nil, domain.NewStorageError("list_steps", workflowID, err)
	}
	defer rows.Close()

	var steps []domain.StepRecord
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan_step", workflowID, err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func (s *Store) GetCompensationLog(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error) {
	return s.queryCompensations(ctx, selectCompensation+` WHERE workflow_id = $1 ORDER BY id`, workflowID)
}

func (s *Store) GetCompensationStack(ctx context.Context, workflowID string) ([]domain.CompensationRecord, error) {
	return s.queryCompensations(ctx,
		selectCompensation+` WHERE workflow_id = $1 AND status = 'pending' ORDER BY id DESC`, workflowID)
}

func (s *Store) GetRunningWorkflows(ctx context.Context) ([]domain.WorkflowRecord, error) {
	rows, err := s.pool.Query(ctx, selectWorkflow+` WHERE status IN ($1, $2) ORDER BY created_at`,
		string(domain.WorkflowStatusRunning), string(domain.WorkflowStatusPaused))
	if err != nil {
		return nil, domain.NewStorageError("list_running", "", err)
	}
	defer rows.Close()

	var records []domain.WorkflowRecord
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan_workflow", "", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *Store) queryCompensations(ctx context.Context, query, workflowID string) ([]domain.CompensationRecord, error) {
	rows, err := s.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, domain.NewStorageError("list_compensations", workflowID, err)
	}
	defer rows.Close()

	var records []domain.CompensationRecord
	for rows.Next() {
		var (
			record domain.CompensationRecord
			intent []byte
			status string
		)
		if err := rows.Scan(&record.Sequence, &record.ID, &record.WorkflowID, &record.StepName, &intent,
			&status, &record.Error, &record.CreatedAt, &record.ExecutedAt); err != nil {
			return nil, domain.NewStorageError("scan_compensation", workflowID, err)
		}
		if err := json.Unmarshal(intent, &record.Intent); err != nil {
			return nil, domain.NewStorageError("decode_intent", record.ID, err)
		}
		record.Status = domain.CompensationStatus(status)
		records = append(records, record)
	}
	return records, rows.Err()
}

const selectWorkflow = `
	SELECT id, name, version, owner, principal, status, spec, created_at, updated_at,
		started_at, completed_at, error_message, rollback_reason
	FROM workflows`

const selectStep = `
	SELECT workflow_id, step_name, step_id, kind, status, inputs, outputs, execution_order,
		completion_order, attempts, error, approved, started_at, completed_at, updated_at
	FROM workflow_steps`

const selectCompensation = `
	SELECT id, record_id, workflow_id, step_name, intent, status, error, created_at, executed_at
	FROM compensation_log`

func scanWorkflow(row pgx.Row) (*domain.WorkflowRecord, error) {
	var (
		record    domain.WorkflowRecord
		principal []byte
		spec      []byte
		status    string
	)
	err := row.Scan(&record.ID, &record.Name, &record.Version, &record.Owner, &principal, &status, &spec,
		&record.CreatedAt, &record.UpdatedAt, &record.StartedAt, &record.CompletedAt,
		&record.ErrorMessage, &record.RollbackReason)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(principal, &record.Principal); err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if err := json.Unmarshal(spec, &record.Spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	record.Status = domain.WorkflowStatus(status)
	return &record, nil
}

func scanStep(row pgx.Row) (*domain.StepRecord, error) {
	var (
		step            domain.StepRecord
		kind, status    string
		inputs, outputs []byte
	)
	err := row.Scan(&step.WorkflowID, &step.StepName, &step.StepID, &kind, &status, &inputs, &outputs,
		&step.ExecutionOrder, &step.CompletionOrder, &step.Attempts, &step.Error, &step.Approved,
		&step.StartedAt, &step.CompletedAt, &step.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if step.Inputs, err = decodeMap(inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if step.Outputs, err = decodeMap(outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	step.Kind = domain.StepKind(kind)
	step.Status = domain.StepStatus(status)
	return &step, nil
}

func encodeMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeMap(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func notFound(err error, workflowID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	return domain.NewStorageError("load_workflow", workflowID, err)
}
