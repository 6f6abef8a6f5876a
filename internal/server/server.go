package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/audit"
	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	"github.com/smallbiznis/orderflow/internal/authorization"
	"github.com/smallbiznis/orderflow/internal/catalog"
	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	"github.com/smallbiznis/orderflow/internal/checkout"
	checkoutdomain "github.com/smallbiznis/orderflow/internal/checkout/domain"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/idempotency"
	"github.com/smallbiznis/orderflow/internal/inventory"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/notification"
	"github.com/smallbiznis/orderflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orderflow/internal/observability/tracing"
	"github.com/smallbiznis/orderflow/internal/order"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	"github.com/smallbiznis/orderflow/internal/payment"
	paymentdomain "github.com/smallbiznis/orderflow/internal/payment/domain"
	"github.com/smallbiznis/orderflow/internal/promotion"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
	"github.com/smallbiznis/orderflow/internal/providers"
	"github.com/smallbiznis/orderflow/internal/providers/pdf"
	"github.com/smallbiznis/orderflow/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	keylock.Module,
	notification.Module,
	ratelimit.Module,
	authorization.Module,
	audit.Module,
	providers.Module,
	idempotency.Module,
	inventory.Module,
	catalog.Module,
	promotion.Module,
	order.Module,
	payment.Module,
	checkout.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	checkoutSvc     checkoutdomain.Service
	orderSvc        orderdomain.Service
	catalogSvc      catalogdomain.Service
	promotionSvc    promotiondomain.Service
	paymentSvc      paymentdomain.Service
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	receipts        pdf.Provider
	hub             *notification.Hub
	checkoutLimiter *ratelimit.CheckoutLimiter
	obsMetrics      *obsmetrics.Metrics
	heartbeat       time.Duration
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	CheckoutSvc     checkoutdomain.Service
	OrderSvc        orderdomain.Service
	CatalogSvc      catalogdomain.Service
	PromotionSvc    promotiondomain.Service
	PaymentSvc      paymentdomain.Service
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service `optional:"true"`
	Receipts        pdf.Provider
	Hub             *notification.Hub
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		checkoutSvc:     p.CheckoutSvc,
		orderSvc:        p.OrderSvc,
		catalogSvc:      p.CatalogSvc,
		promotionSvc:    p.PromotionSvc,
		paymentSvc:      p.PaymentSvc,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		receipts:        p.Receipts,
		hub:             p.Hub,
		checkoutLimiter: p.CheckoutLimiter,
		obsMetrics:      p.ObsMetrics,
		heartbeat:       15 * time.Second,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/checkout", s.UserRequired(), s.CheckoutRateLimit(), s.Checkout)

	// -------- Orders --------
	orders := api.Group("/orders", s.UserRequired())
	{
		orders.GET("", s.ListOrders)
		orders.GET("/events", s.StreamOrderEvents)
		orders.GET("/:id", s.GetOrderByID)
		orders.POST("/:id/cancel", s.CancelOrder)
		orders.GET("/:id/receipt", s.GetOrderReceipt)
	}

	// -------- Catalog --------
	api.GET("/products", s.ListProducts)
	api.GET("/products/:id", s.GetProductByID)
	api.POST("/promotions/validate", s.UserRequired(), s.ValidatePromotion)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhook", s.WebhookKeyRequired(), s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminRequired())

	// -------- Orders --------
	admin.POST("/orders/:id/transition", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderTransition), s.TransitionOrder)
	admin.GET("/orders/:id/history", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderHistory), s.GetOrderHistory)

	// -------- Products --------
	admin.POST("/products", s.authorizeAction(authorization.ObjectProduct, authorization.ActionProductCreate), s.CreateProduct)
	admin.POST("/products/:id/restock", s.authorizeAction(authorization.ObjectProduct, authorization.ActionProductRestock), s.RestockProduct)

	// -------- Promotions --------
	admin.GET("/promotions", s.authorizeAction(authorization.ObjectPromotion, authorization.ActionPromotionView), s.ListPromotions)
	admin.POST("/promotions", s.authorizeAction(authorization.ObjectPromotion, authorization.ActionPromotionCreate), s.CreatePromotion)

	// -------- Reconciliation --------
	admin.GET("/payments/events", s.authorizeAction(authorization.ObjectPaymentEvent, authorization.ActionPaymentEventView), s.ListPaymentEvents)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
