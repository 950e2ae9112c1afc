package risk

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/platform/sentinel"
)

// Generator produces vendor risks for an approval.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Service runs risk generation in the background so approvals never wait on
// the risk-analysis service.
type Service struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger

	seq     atomic.Int64
	running sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTimeout bounds one background generation run.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(generator Generator, opts ...Option) *Service {
	s := &Service{generator: generator, timeout: 2 * time.Minute, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateVendorRisksAsync schedules generation and returns at once. The run
// outlives the caller's request; its outcome is only logged.
func (s *Service) GenerateVendorRisksAsync(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (Ack, error) {
	if tenantID.IsNil() || approvalID.IsNil() {
		return Ack{}, dErrors.New(dErrors.CodeValidation, "tenant and approval are required for risk generation")
	}
	thread := "risk-gen-" + strconv.FormatInt(s.seq.Add(1), 10)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel()
		start := time.Now()
		resp, err := s.generator.Generate(runCtx, GenerateRequest{TenantID: tenantID, ApprovalID: approvalID})
		if err != nil {
			s.logger.WarnContext(runCtx, "risk.generation.failed",
				"tenant_id", tenantID.String(),
				"approval_id", approvalID.String(),
				"thread_name", thread,
				"unavailable", errors.Is(err, sentinel.ErrUnavailable),
				"error", err,
			)
			return
		}
		s.logger.InfoContext(runCtx, "risk.generation.completed",
			"tenant_id", tenantID.String(),
			"approval_id", approvalID.String(),
			"thread_name", thread,
			"risks_created", resp.RisksCreated,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()
	return Ack{Status: StatusStarted, ThreadName: thread}, nil
}

// Wait blocks until every scheduled run has finished or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
