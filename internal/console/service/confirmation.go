package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// ConfirmationReader журнал подтверждений только на чтение: консоль не решает за автора запроса.
type ConfirmationReader interface {
	Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error)
	List(ctx context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error)
}

type ConfirmationService struct {
	repo ConfirmationReader
}

func NewConfirmationService(repo ConfirmationReader) *ConfirmationService {
	return &ConfirmationService{repo: repo}
}

func (s *ConfirmationService) Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error) {
	return s.repo.Get(ctx, id)
}

// List по умолчанию очередь ожидающих подтверждения.
func (s *ConfirmationService) List(ctx context.Context, guildID, status string, limit int) ([]*domain.ConfirmationRecord, error) {
	st := domain.ConfirmationStatus(status)
	switch st {
	case "":
		st = domain.ConfirmationPending
	case domain.ConfirmationNone, domain.ConfirmationPending, domain.ConfirmationApproved, domain.ConfirmationRejected:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadFilter, status)
	}
	return s.repo.List(ctx, domain.ConfirmationFilter{GuildID: guildID, ConfirmationStatus: st, Limit: limit})
}
