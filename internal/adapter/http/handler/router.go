package handler

import (
	"agent-payment-gateway/internal/adapter/http/middleware"
	"agent-payment-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	PaymentSvc     ports.PaymentService
	Gate           ports.ApprovalGate
	ToolGuard      ports.ToolGuard // nil = gated tool endpoints disabled
	TokenSvc       ports.TokenService
	RateLimiter    middleware.Limiter // nil = rate limiting disabled
	RateLimitRules map[string]middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = denied-request auditing disabled
	OpenAPISpec    []byte
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec(deps.OpenAPISpec))
	}

	// Helper: return rate limiter middleware if a store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := deps.RateLimitRules[group]
		if deps.RateLimiter == nil || !ok || rule.Limit <= 0 {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	operatorAuth := middleware.OperatorAuth(deps.TokenSvc, deps.Logger)
	workflowAuth := middleware.WorkflowAuth(deps.TokenSvc, deps.Logger)

	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallet := v1.Group("/wallet")
	{
		wallet.GET("", walletHandler.GetInfo)
		wallet.GET("/balance", walletHandler.GetBalance)
		wallet.POST("/reset", operatorAuth, walletHandler.Reset)
	}

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments", workflowAuth)
	{
		payments.POST("", rl("payments"), paymentHandler.SubmitPayment)
		payments.GET("", paymentHandler.ListPayments)
		payments.GET("/:id", paymentHandler.GetPayment)
	}

	if deps.ToolGuard != nil {
		toolHandler := NewToolHandler(deps.ToolGuard, deps.WalletSvc)
		tools := v1.Group("/tools", workflowAuth)
		{
			// Tool requests share the payment submission quota.
			tools.POST("/wallet-reset", rl("payments"), toolHandler.RequestWalletReset)
			tools.GET("/:id", toolHandler.GetOutcome)
		}
	}

	approvalHandler := NewApprovalHandler(deps.Gate)
	approvals := v1.Group("/approvals", operatorAuth)
	{
		approvals.GET("", approvalHandler.ListPending)
		approvals.GET("/:id", approvalHandler.GetApproval)
		approvals.POST("/:id/decision", rl("decisions"), approvalHandler.Decide)
	}

	return r
}
