package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/triage-core/internal/audit"
)

// AuditLogProvider описывает контракт для чтения аудиторского следа.
// Используем структуру AuditEvent из пакета audit — единая модель данных.
type AuditLogProvider interface {
	FetchEvents(ctx context.Context, correlationID, category string) ([]audit.AuditEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchEvents запрашивает след с фильтрацией.
// Логика фильтров (пустые строки или конкретные ID) инкапсулирована в репозитории.
func (s *AuditService) FetchEvents(ctx context.Context, correlationID, category string) ([]audit.AuditEvent, error) {
	events, err := s.repo.FetchEvents(ctx, correlationID, category)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch events: %w", err)
	}
	return events, nil
}
