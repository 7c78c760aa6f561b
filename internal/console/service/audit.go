package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/guildops-agent/internal/audit"
)

// AuditLogProvider — чтение журнала аудита; модель события общая с пакетом audit.
type AuditLogProvider interface {
	Find(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	logs, err := s.repo.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
