package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

// recordAudit writes an admin action to the audit trail. A failed write is
// logged and never fails the request.
func (s *Server) recordAudit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if hint := c.GetString(contextKeyHintKey); hint != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["key_hint"] = hint
	}

	ctx := c.Request.Context()
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
		StartAt    string `form:"start_at"`
		EndAt      string `form:"end_at"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "start_at must be RFC3339"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "end_at must be RFC3339"))
		return
	}

	logs, pageInfo, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: query.Pagination,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs, "page_info": pageInfo})
}

func parseOptionalTime(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
