package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"github.com/google/uuid"
)

// Service keeps approval requests in memory. Requests are keyed by workflow;
// one decision settles every pending request of that workflow.
type Service struct {
	mu      sync.RWMutex
	pending map[string][]domain.ApprovalRequest
	history map[string][]domain.ApprovalDecisionRecord
	now     func() time.Time
	logger  *slog.Logger
}

var _ ports.ApprovalService = (*Service)(nil)

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		pending: make(map[string][]domain.ApprovalRequest),
		history: make(map[string][]domain.ApprovalDecisionRecord),
		now:     time.Now,
		logger:  logger.With("component", "approval", "type", "memory"),
	}
}

func (s *Service) RequestApproval(ctx context.Context, req domain.ApprovalRequest) error {
	if req.WorkflowID == "" || req.StepName == "" {
		return fmt.Errorf("%w: approval request needs workflow and step", domain.ErrInvalidInput)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pending[req.WorkflowID] {
		if existing.StepName == req.StepName {
			s.logger.Debug("approval already pending", "workflow_id", req.WorkflowID, "step", req.StepName)
			return nil
		}
	}
	s.pending[req.WorkflowID] = append(s.pending[req.WorkflowID], req)

	s.logger.Info("approval requested",
		"workflow_id", req.WorkflowID,
		"step", req.StepName,
		"principal", req.Principal.ID,
		"reason", req.Reason,
	)
	return nil
}

// RecordDecision settles all pending requests of the workflow. It returns
// domain.ErrNoPendingApproval when nothing is pending, which happens after a
// restart since requests are not persisted.
func (s *Service) RecordDecision(ctx context.Context, workflowID string, decision domain.Decision, approver string) error {
	decision, err := domain.ParseDecision(string(decision))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requests := s.pending[workflowID]
	delete(s.pending, workflowID)

	at := s.now()
	if len(requests) == 0 {
		s.history[workflowID] = append(s.history[workflowID], domain.ApprovalDecisionRecord{
			WorkflowID: workflowID,
			Decision:   decision,
			Approver:   approver,
			DecidedAt:  at,
		})
		return fmt.Errorf("%w: workflow %s", domain.ErrNoPendingApproval, workflowID)
	}

	for _, req := range requests {
		s.history[workflowID] = append(s.history[workflowID], domain.ApprovalDecisionRecord{
			RequestID:  req.ID,
			WorkflowID: workflowID,
			Decision:   decision,
			Approver:   approver,
			DecidedAt:  at,
		})
	}

	s.logger.Info("approval decided",
		"workflow_id", workflowID,
		"decision", decision,
		"approver", approver,
		"requests", len(requests),
	)
	return nil
}

func (s *Service) IsPending(ctx context.Context, workflowID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending[workflowID]) > 0, nil
}

// Pending lists open requests. An empty workflowID lists every workflow,
// ordered by request time.
func (s *Service) Pending(workflowID string) []domain.ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ApprovalRequest
	if workflowID != "" {
		out = append(out, s.pending[workflowID]...)
		return out
	}
	for _, reqs := range s.pending {
		out = append(out, reqs...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (s *Service) History(workflowID string) []domain.ApprovalDecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ApprovalDecisionRecord, len(s.history[workflowID]))
	copy(out, s.history[workflowID])
	return out
}
