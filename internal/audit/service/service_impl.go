package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	"github.com/smallbiznis/orderflow/internal/audit/masking"
	"github.com/smallbiznis/orderflow/internal/clock"
	obscontext "github.com/smallbiznis/orderflow/internal/observability/context"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func New(p Params) auditdomain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorType, actorID := resolveActor(ctx, entry.ActorType, entry.ActorID)

	payload := masking.MaskSensitive(entry.Metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate().Int64(),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		IPAddress:  optional(entry.IPAddress),
		UserAgent:  optional(truncate(entry.UserAgent, 255)),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditLog, pagination.PageInfo, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return nil, pagination.PageInfo{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.Cursor
	raw, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	if raw != nil {
		id, err := strconv.ParseInt(raw.ID, 10, 64)
		if err != nil || id == 0 {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit + 1,
	})
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	return pagination.Page(rows, limit, func(item auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{
			ID:        strconv.FormatInt(item.ID, 10),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
}

func resolveActor(ctx context.Context, actorType, actorID string) (string, string) {
	actorType = strings.TrimSpace(actorType)
	actorID = strings.TrimSpace(actorID)
	if actorType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if actorID == "" {
				actorID = ctxID
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, actorID
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
