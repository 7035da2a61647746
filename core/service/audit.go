package service

import (
	"context"
	"encoding/json"
	"time"

	"nfcunha/orchestrator/core/models"
	"nfcunha/orchestrator/core/repository"

	"github.com/sirupsen/logrus"
)

const defaultAuditLimit = 50

// AuditService records lifecycle actions and system events. A nil *AuditService
// or nil repositories turn every call into a no-op.
type AuditService struct {
	actions *repository.ActionLogRepository
	events  *repository.EventLogRepository
	now     func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(actions *repository.ActionLogRepository, events *repository.EventLogRepository) *AuditService {
	return &AuditService{
		actions: actions,
		events:  events,
		now:     time.Now,
	}
}

// logAction records the outcome of an action and returns err unchanged.
func (s *AuditService) logAction(ctx context.Context, actionType, resourceType, resourceID, resourceName string, err error) error {
	if s == nil || s.actions == nil {
		return err
	}

	entry := &models.ActionLog{
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Success:      err == nil,
		ExecutedAt:   s.now(),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	// the action already happened; a cancelled request must not drop its record
	if logErr := s.actions.Create(context.WithoutCancel(ctx), entry); logErr != nil {
		logrus.Warnf("Failed to log action: %v", logErr)
	}

	return err
}

func (s *AuditService) logEvent(ctx context.Context, eventType, level, message string, metadata map[string]string) {
	if s == nil || s.events == nil {
		return
	}

	entry := &models.EventLog{
		EventType: eventType,
		Level:     level,
		Message:   message,
		CreatedAt: s.now(),
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(raw)
		}
	}

	if err := s.events.Create(context.WithoutCancel(ctx), entry); err != nil {
		logrus.Warnf("Failed to log event: %v", err)
	}
}

// RecentActions returns the latest actions across all resources, newest first.
func (s *AuditService) RecentActions(ctx context.Context, limit int) ([]*models.ActionLog, error) {
	if s == nil || s.actions == nil {
		return []*models.ActionLog{}, nil
	}
	return s.actions.GetRecent(ctx, clampLimit(limit))
}

// ActionsFor returns the latest actions recorded against one container.
func (s *AuditService) ActionsFor(ctx context.Context, containerID string, limit int) ([]*models.ActionLog, error) {
	if s == nil || s.actions == nil {
		return []*models.ActionLog{}, nil
	}
	return s.actions.GetByResource(ctx, "container", containerID, clampLimit(limit))
}

// RecentEvents returns the latest events; an empty eventType matches all.
func (s *AuditService) RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.EventLog, error) {
	if s == nil || s.events == nil {
		return []*models.EventLog{}, nil
	}
	return s.events.GetRecent(ctx, eventType, clampLimit(limit))
}

// Prune deletes actions and events older than days.
func (s *AuditService) Prune(ctx context.Context, days int) {
	if s == nil || days <= 0 {
		return
	}

	if s.actions != nil {
		if n, err := s.actions.DeleteOlderThan(ctx, days); err != nil {
			logrus.Warnf("Failed to prune action logs: %v", err)
		} else if n > 0 {
			logrus.Debugf("Pruned %d action logs", n)
		}
	}
	if s.events != nil {
		if n, err := s.events.DeleteOlderThan(ctx, days); err != nil {
			logrus.Warnf("Failed to prune event logs: %v", err)
		} else if n > 0 {
			logrus.Debugf("Pruned %d event logs", n)
		}
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLimit
	case limit > 500:
		return 500
	}
	return limit
}
