package httpapi

import (
	"net/http"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/health"
	"datanexus-marketplace/pkg/middleware"
	"datanexus-marketplace/services/ledger"
	"datanexus-marketplace/services/market"
	"datanexus-marketplace/services/settlement"
	"datanexus-marketplace/services/submission"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, ProvideRouter),
)

type Handler struct {
	settlement *settlement.Service
	ledger     *ledger.Service
	market     *market.Service
	submission *submission.Service
}

type HandlerParams struct {
	fx.In
	Settlement *settlement.Service
	Ledger     *ledger.Service
	Market     *market.Service
	Submission *submission.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		settlement: p.Settlement,
		ledger:     p.Ledger,
		market:     p.Market,
		submission: p.Submission,
	}
}

func ProvideRouter(cfg *config.Config, h *Handler, hc health.HealthService) http.Handler {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz/live", hc.Liveness)
	r.GET("/healthz/ready", hc.Readiness)

	v1 := r.Group("/v1", middleware.Actor())
	{
		v1.GET("/market/summaries", h.MarketSummaries)
		v1.GET("/market/purchases", h.AgencyPurchases)
		v1.POST("/market/campaigns", h.CreateCampaign)
		v1.GET("/market/campaigns", h.ListCampaigns)
		v1.GET("/market/stats", h.DashboardStats)

		v1.GET("/cart", h.ListCart)
		v1.POST("/cart/items", h.AddToCart)

		v1.POST("/orders/checkout", h.Checkout)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)

		v1.POST("/payments/webhook", h.PaymentWebhook)

		v1.GET("/balance", h.Balance)
		v1.POST("/withdrawals", h.RequestWithdrawal)
		v1.GET("/withdrawals", h.ListWithdrawals)

		v1.POST("/submissions", h.RegisterSubmission)
		v1.POST("/submissions/:id/metadata-bonus", h.ApplyMetadataBonus)
		v1.DELETE("/submissions/:id", h.DeleteSubmission)
	}

	return r
}
