package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/retailops/installment-api/internal/services"
)

type PlanHandler struct {
	planService *services.PlanService
}

func NewPlanHandler(planService *services.PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// @Summary List Plans
// @Description Get a paginated list of installment plans
// @Tags Plans
// @Accept json
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param customer_id query string false "Filter by customer"
// @Param sale_id query string false "Filter by sale"
// @Param status query string false "Filter by status (comma-separated for multiple)"
// @Success 200 {object} map[string]interface{}
// @Router /plans [get]
func (h *PlanHandler) Index(c *gin.Context) {
	query := &repository.PlanQuery{ListQuery: repository.NewListQuery()}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.Search = c.Query("search_term")
	query.CustomerID = c.Query("customer_id")
	query.SaleID = c.Query("sale_id")
	query.Status = c.Query("status")
	query.SortBy = c.Query("sort_by")
	query.SortDir = c.Query("sort_dir")
	if startDate := c.Query("start_date"); startDate != "" {
		query.Filters["start_date"] = startDate
	}
	if endDate := c.Query("end_date"); endDate != "" {
		query.Filters["end_date"] = endDate
	}

	plans, total, err := h.planService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	var responses []interface{}
	for i := range plans {
		responses = append(responses, plans[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}

// @Summary Create Plan
// @Description Open a new installment plan and generate its payment schedule
// @Tags Plans
// @Accept json
// @Produce json
// @Param plan body services.CreatePlanRequest true "Plan attributes"
// @Success 201 {object} models.PlanResponse
// @Failure 422 {object} map[string]string
// @Router /plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req services.CreatePlanRequest
	if err := BindNestedOrFlat(c, "plan", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	plan, err := h.planService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"plan": plan.ToResponse()})
}

// @Summary Get Plan
// @Description Get an installment plan with its full payment schedule
// @Tags Plans
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Success 200 {object} models.PlanResponse
// @Failure 404 {object} map[string]string
// @Router /plans/{plan_id} [get]
func (h *PlanHandler) Show(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	plan, err := h.planService.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan.ToResponse()})
}

// @Summary Record Payment
// @Description Record money collected against an installment. Partial and excess amounts are accepted.
// @Tags Plans
// @Accept json
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Param payment body services.RecordPaymentRequest true "Payment attributes"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /plans/{plan_id}/payments [post]
func (h *PlanHandler) RecordPayment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var req services.RecordPaymentRequest
	if err := BindNestedOrFlat(c, "payment", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	receipt, err := h.planService.RecordPayment(c.Request.Context(), uint(id), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":          receipt.Plan.ToResponse(),
		"payment":       receipt.Payment.ToResponse(),
		"excess_amount": receipt.ExcessAmount,
	})
}

type planActionRequest struct {
	Actor string  `json:"actor"`
	Note  *string `json:"note"`
}

// @Summary Cancel Plan
// @Description Cancel an open plan. Remaining installments accept no further payments.
// @Tags Plans
// @Accept json
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Success 200 {object} models.PlanResponse
// @Failure 409 {object} map[string]string
// @Router /plans/{plan_id}/cancel [post]
func (h *PlanHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var req planActionRequest
	_ = BindNestedOrFlat(c, "cancellation", &req)

	plan, err := h.planService.Cancel(c.Request.Context(), uint(id), req.Actor, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan.ToResponse()})
}

// @Summary Mark Plan Defaulted
// @Description Flag a delinquent plan as defaulted
// @Tags Plans
// @Accept json
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Success 200 {object} models.PlanResponse
// @Failure 409 {object} map[string]string
// @Router /plans/{plan_id}/default [post]
func (h *PlanHandler) MarkDefaulted(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var req planActionRequest
	_ = BindNestedOrFlat(c, "default", &req)

	plan, err := h.planService.MarkDefaulted(c.Request.Context(), uint(id), req.Actor, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan.ToResponse()})
}
