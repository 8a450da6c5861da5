package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/retailops/installment-api/internal/services"
)

type ModificationHandler struct {
	modificationService *services.ModificationService
}

func NewModificationHandler(modificationService *services.ModificationService) *ModificationHandler {
	return &ModificationHandler{modificationService: modificationService}
}

// @Summary Preview Modification
// @Description Compute the before/after effect of a proposed change without persisting anything
// @Tags Modifications
// @Accept json
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Param modification body services.ModificationRequest true "Proposed change"
// @Success 200 {object} models.ModificationPreview
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /plans/{plan_id}/modifications/preview [post]
func (h *ModificationHandler) Preview(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var req services.ModificationRequest
	if err := BindNestedOrFlat(c, "modification", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	preview, err := h.modificationService.Preview(c.Request.Context(), uint(id), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"preview": preview})
}

// @Summary Request Modification
// @Description Submit a change to a plan's terms for approval
// @Tags Modifications
// @Accept json
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Param modification body services.ModificationRequest true "Proposed change"
// @Success 201 {object} models.ModificationResponse
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /plans/{plan_id}/modifications [post]
func (h *ModificationHandler) Create(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	var req services.ModificationRequest
	if err := BindNestedOrFlat(c, "modification", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mod, err := h.modificationService.Request(c.Request.Context(), uint(id), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"modification": mod.ToResponse()})
}

// @Summary List Modifications
// @Description Get a plan's modification history, newest first
// @Tags Modifications
// @Produce json
// @Param plan_id path int true "Plan ID"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param status query string false "Filter by status"
// @Success 200 {object} map[string]interface{}
// @Router /plans/{plan_id}/modifications [get]
func (h *ModificationHandler) Index(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("plan_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if status := c.Query("status"); status != "" {
		query.Filters["status"] = status
	}
	if modType := c.Query("modification_type"); modType != "" {
		query.Filters["modification_type"] = modType
	}

	mods, total, err := h.modificationService.ListByPlan(c.Request.Context(), uint(id), query)
	if err != nil {
		respondError(c, err)
		return
	}

	var responses []interface{}
	for i := range mods {
		responses = append(responses, mods[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"modifications": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}

// @Summary Get Modification
// @Description Get one modification request with its before/after snapshots
// @Tags Modifications
// @Produce json
// @Param modification_id path int true "Modification ID"
// @Success 200 {object} models.ModificationResponse
// @Failure 404 {object} map[string]string
// @Router /modifications/{modification_id} [get]
func (h *ModificationHandler) Show(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("modification_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modification id"})
		return
	}

	mod, err := h.modificationService.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"modification": mod.ToResponse()})
}

type approveRequest struct {
	ApprovedBy string  `json:"approved_by"`
	Notes      *string `json:"notes"`
}

// @Summary Approve Modification
// @Description Approve a pending modification. The plan is untouched until apply.
// @Tags Modifications
// @Accept json
// @Produce json
// @Param modification_id path int true "Modification ID"
// @Success 200 {object} models.ModificationResponse
// @Failure 409 {object} map[string]string
// @Router /modifications/{modification_id}/approve [post]
func (h *ModificationHandler) Approve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("modification_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modification id"})
		return
	}

	var req approveRequest
	if err := BindNestedOrFlat(c, "approval", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mod, err := h.modificationService.Approve(c.Request.Context(), uint(id), req.ApprovedBy, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"modification": mod.ToResponse()})
}

type rejectRequest struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

// @Summary Reject Modification
// @Description Reject a pending modification. The plan keeps its current terms.
// @Tags Modifications
// @Accept json
// @Produce json
// @Param modification_id path int true "Modification ID"
// @Success 200 {object} models.ModificationResponse
// @Failure 409 {object} map[string]string
// @Router /modifications/{modification_id}/reject [post]
func (h *ModificationHandler) Reject(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("modification_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modification id"})
		return
	}

	var req rejectRequest
	if err := BindNestedOrFlat(c, "rejection", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mod, err := h.modificationService.Reject(c.Request.Context(), uint(id), req.RejectedBy, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"modification": mod.ToResponse()})
}

type applyRequest struct {
	AppliedBy string `json:"applied_by"`
}

// @Summary Apply Modification
// @Description Execute an approved modification against the live plan, rewriting its open schedule
// @Tags Modifications
// @Accept json
// @Produce json
// @Param modification_id path int true "Modification ID"
// @Success 200 {object} models.ModificationResponse
// @Failure 409 {object} map[string]string
// @Router /modifications/{modification_id}/apply [post]
func (h *ModificationHandler) Apply(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("modification_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modification id"})
		return
	}

	var req applyRequest
	_ = BindNestedOrFlat(c, "apply", &req)

	mod, err := h.modificationService.Apply(c.Request.Context(), uint(id), req.AppliedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"modification": mod.ToResponse()})
}
