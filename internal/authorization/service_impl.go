package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

const (
	RoleAdmin    = "role:admin"
	RoleOperator = "role:operator"
)

const (
	ObjectOrder        = "order"
	ObjectProduct      = "product"
	ObjectPromotion    = "promotion"
	ObjectPaymentEvent = "payment_event"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionOrderTransition = "order.transition"
	ActionOrderHistory    = "order.history"

	ActionProductCreate  = "product.create"
	ActionProductRestock = "product.restock"

	ActionPromotionView   = "promotion.view"
	ActionPromotionCreate = "promotion.create"

	ActionPaymentEventView = "payment_event.view"

	ActionAuditLogView = "audit_log.view"
)

// Principal is an authenticated operator of the admin surface.
type Principal struct {
	Subject string
	Role    string
}

type Service interface {
	Authenticate(ctx context.Context, rawKey string) (Principal, error)
	Authorize(ctx context.Context, principal Principal, object string, action string) error
}

type credential struct {
	subject string
	role    string
	hash    []byte
}

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log         *zap.Logger
	enforcer    *casbin.SyncedEnforcer
	credentials []credential
}

// NewEnforcer builds an in-memory RBAC enforcer. Operators can move orders
// and read the review queue; admins can additionally manage the catalog and
// promotions.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return newService(p)
}

func newService(p Params) *ServiceImpl {
	s := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
	if hash := strings.TrimSpace(p.Cfg.AdminAPIKeyHash); hash != "" {
		s.credentials = append(s.credentials, credential{subject: "admin", role: RoleAdmin, hash: []byte(hash)})
	}
	if hash := strings.TrimSpace(p.Cfg.OperatorAPIKeyHash); hash != "" {
		s.credentials = append(s.credentials, credential{subject: "operator", role: RoleOperator, hash: []byte(hash)})
	}
	if len(s.credentials) == 0 {
		s.log.Warn("no admin credentials configured; admin routes will reject every request")
	}
	return s
}

func (s *ServiceImpl) Authenticate(ctx context.Context, rawKey string) (Principal, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return Principal{}, ErrUnauthorized
	}
	for _, cred := range s.credentials {
		if bcrypt.CompareHashAndPassword(cred.hash, []byte(rawKey)) == nil {
			return Principal{Subject: cred.subject, Role: cred.role}, nil
		}
	}
	logger.WithContext(ctx, s.log).Warn("admin key rejected")
	return Principal{}, ErrUnauthorized
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal Principal, object string, action string) error {
	role := strings.TrimSpace(principal.Role)
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(role, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		logger.WithContext(ctx, s.log).Warn("authorization denied",
			zap.String("subject", principal.Subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	if shouldAuditGrant(action) {
		logger.WithContext(ctx, s.log).Info("authorization granted",
			zap.String("subject", principal.Subject),
			zap.String("object", object),
			zap.String("action", action),
		)
	}
	return nil
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionOrderTransition, ActionProductRestock, ActionPromotionCreate:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleOperator, ObjectOrder, ActionOrderTransition},
		{RoleOperator, ObjectOrder, ActionOrderHistory},
		{RoleOperator, ObjectPromotion, ActionPromotionView},
		{RoleOperator, ObjectPaymentEvent, ActionPaymentEventView},

		{RoleAdmin, ObjectProduct, ActionProductCreate},
		{RoleAdmin, ObjectProduct, ActionProductRestock},
		{RoleAdmin, ObjectPromotion, ActionPromotionCreate},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	// Admins inherit every operator permission.
	_, err := enforcer.AddGroupingPolicy(RoleAdmin, RoleOperator)
	return err
}
