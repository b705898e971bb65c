package httpapi

import (
	"net/http"

	"datanexus-marketplace/pkg/db/pagination"
	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/middleware"
	"datanexus-marketplace/pkg/money"
	"datanexus-marketplace/services/market"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

func agencyID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.ContextAgencyID)
	if id == "" {
		c.Error(errutil.Unauthorized("agency identity is required", nil))
		return "", false
	}
	return id, true
}

func contributorID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.ContextContributorID)
	if id == "" {
		c.Error(errutil.Unauthorized("contributor identity is required", nil))
		return "", false
	}
	return id, true
}

func (h *Handler) MarketSummaries(c *gin.Context) {
	summaries, err := h.market.Summaries(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (h *Handler) AgencyPurchases(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(errutil.BadRequest("invalid pagination parameters", err))
		return
	}

	items, pageInfo, err := h.market.AgencyPurchases(c.Request.Context(), agency, p)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": items, "page_info": pageInfo})
}

type createCampaignRequest struct {
	Name       string         `json:"name" binding:"required"`
	CategoryID string         `json:"category_id" binding:"required"`
	Budget     int64          `json:"budget"`
	Criteria   datatypes.JSON `json:"criteria"`
}

func (h *Handler) CreateCampaign(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid campaign payload", err))
		return
	}

	campaign, err := h.market.CreateCampaign(c.Request.Context(), market.CreateCampaignParams{
		AgencyID:   agency,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		Budget:     req.Budget,
		Criteria:   req.Criteria,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	campaigns, err := h.market.ListCampaigns(c.Request.Context(), agency)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (h *Handler) DashboardStats(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	stats, err := h.market.DashboardStats(c.Request.Context(), contributor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type addToCartRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
}

func (h *Handler) AddToCart(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid cart payload", err))
		return
	}

	item, err := h.settlement.AddToCart(c.Request.Context(), agency, req.CategoryID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) ListCart(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	items, err := h.settlement.ListCart(c.Request.Context(), agency)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) Checkout(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	order, err := h.settlement.Checkout(c.Request.Context(), agency)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	orders, err := h.settlement.ListOrders(c.Request.Context(), agency)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) GetOrder(c *gin.Context) {
	agency, ok := agencyID(c)
	if !ok {
		return
	}

	order, err := h.settlement.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if order == nil || order.BuyerID != agency {
		c.Error(errutil.NotFound("order not found", nil))
		return
	}
	c.JSON(http.StatusOK, order)
}

type paymentWebhookRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	PaymentRef string `json:"payment_ref" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
}

// PaymentWebhook is called by the payment provider, not by marketplace
// users; it carries no actor headers.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid webhook payload", err))
		return
	}

	result, err := h.settlement.HandleConfirmation(c.Request.Context(), req.OrderID, req.PaymentRef, req.Signature)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Balance(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	earned, err := h.ledger.Earned(ctx, contributor)
	if err != nil {
		c.Error(err)
		return
	}
	withdrawn, err := h.ledger.Withdrawn(ctx, contributor)
	if err != nil {
		c.Error(err)
		return
	}
	available, err := h.ledger.Available(ctx, contributor)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"earned":              earned,
		"withdrawn":           withdrawn,
		"available":           available,
		"available_formatted": money.Format(available),
	})
}

type withdrawalRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid withdrawal payload", err))
		return
	}

	request, err := h.ledger.RequestWithdrawal(c.Request.Context(), contributor, req.Amount, req.Destination)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	requests, err := h.ledger.ListWithdrawals(c.Request.Context(), contributor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": requests})
}

type registerSubmissionRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
	Name       string `json:"name"`
	BlobRef    string `json:"blob_ref" binding:"required"`
}

func (h *Handler) RegisterSubmission(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	var req registerSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid submission payload", err))
		return
	}

	item, err := h.submission.Register(c.Request.Context(), contributor, req.CategoryID, req.Name, req.BlobRef)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type metadataBonusRequest struct {
	Bonus int `json:"bonus" binding:"required"`
}

func (h *Handler) ApplyMetadataBonus(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	var req metadataBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid bonus payload", err))
		return
	}

	item, err := h.submission.ApplyMetadataBonus(c.Request.Context(), contributor, c.Param("id"), req.Bonus)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) DeleteSubmission(c *gin.Context) {
	contributor, ok := contributorID(c)
	if !ok {
		return
	}

	if err := h.submission.Delete(c.Request.Context(), contributor, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
