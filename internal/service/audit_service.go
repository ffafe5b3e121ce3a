package service

import (
	"context"
	"encoding/json"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	go func() {
		s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("actor", entry.Actor).
			Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// newAuditEntry builds an audit log with details encoded as JSON.
func newAuditEntry(action domain.AuditAction, resourceType, resourceID, actor string, details map[string]string) *domain.AuditLog {
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        actor,
		CreatedAt:    time.Now().UTC(),
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = string(raw)
		}
	}
	return entry
}

// recordAudit is a nil-safe shorthand used by the services.
func recordAudit(ctx context.Context, svc ports.AuditService, entry *domain.AuditLog) {
	if svc == nil {
		return
	}
	svc.Log(ctx, entry)
}
