package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/events"
)

// AuditService writes an audit trail entry for every user and token event.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.AuditConfig
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.AuditConfig) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil || !a.cfg.Enabled {
		return
	}
	a.dispatcher.Subscribe(events.EventUserRegistered, a.handleUserEvent)
	a.dispatcher.Subscribe(events.EventUserUpdated, a.handleUserEvent)
	a.dispatcher.Subscribe(events.EventUserDeleted, a.handleUserEvent)
	a.dispatcher.Subscribe(events.EventTokenIssued, a.handleTokenIssued)
	a.dispatcher.Subscribe(events.EventTokenRevoked, a.handleTokenRevoked)
}

func (a *AuditService) handleUserEvent(_ context.Context, event events.Event) error {
	a.logger.Info(string(event.Type), a.baseFields(event, zap.Any("payload", event.Payload))...)
	return nil
}

func (a *AuditService) handleTokenIssued(_ context.Context, event events.Event) error {
	fields := []zap.Field{}
	if payload, ok := event.Payload.(events.TokenIssuedPayload); ok {
		fields = append(fields, zap.Int64("token_id", payload.TokenID))
		if payload.ReplacedTokenID != nil {
			fields = append(fields, zap.Int64("replaced_token_id", *payload.ReplacedTokenID))
		}
	}
	a.logger.Info(string(event.Type), a.baseFields(event, fields...)...)
	return nil
}

func (a *AuditService) handleTokenRevoked(_ context.Context, event events.Event) error {
	fields := []zap.Field{}
	if payload, ok := event.Payload.(events.TokenRevokedPayload); ok {
		fields = append(fields, zap.Int64("token_id", payload.TokenID), zap.String("reason", payload.Reason))
	}
	a.logger.Info(string(event.Type), a.baseFields(event, fields...)...)
	return nil
}

func (a *AuditService) baseFields(event events.Event, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.Int64("user_id", event.UserID),
		zap.Time("at", event.Timestamp),
	}
	return append(fields, extra...)
}
