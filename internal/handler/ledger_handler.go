package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/comphours-api/internal/dto"
	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
	"github.com/noah-isme/comphours-api/pkg/response"
)

type ledgerService interface {
	SubmitHourEntry(ctx context.Context, userID string, req dto.SubmitHourEntryRequest) (*models.HourEntry, error)
	DecideHourEntry(ctx context.Context, entryID string, decision models.Decision, actorID string) (*models.HourEntry, error)
	SubmitCompensatoryRequest(ctx context.Context, userID string, req dto.SubmitCompensatoryRequest) (*models.CompensatoryRequest, error)
	Decide(ctx context.Context, requestID string, decision models.Decision, actorID string) (*models.CompensatoryRequestView, error)
	CurrentBalance(ctx context.Context, userID string) (*models.Balance, error)
	ListHourEntries(ctx context.Context, filter models.HourEntryFilter) ([]models.HourEntry, error)
	ListCompensatoryRequests(ctx context.Context, filter models.CompensatoryRequestFilter) ([]models.CompensatoryRequestView, error)
}

// LedgerHandler exposes hour entries, compensatory requests and balances.
type LedgerHandler struct {
	service ledgerService
}

// NewLedgerHandler constructs the handler.
func NewLedgerHandler(service ledgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// SubmitHourEntry godoc
// @Summary Submit extra hours (negative values are adjustments)
// @Tags Hours
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SubmitHourEntryRequest true "Hour entry"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /hours [post]
func (h *LedgerHandler) SubmitHourEntry(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitHourEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidInput, "invalid hour entry payload"))
		return
	}
	entry, err := h.service.SubmitHourEntry(c.Request.Context(), principal.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// DecideHourEntry godoc
// @Summary Accept or reject a pending hour entry
// @Tags Hours
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Hour entry ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /hours/{id}/decision [post]
func (h *LedgerHandler) DecideHourEntry(c *gin.Context) {
	principal, decision, ok := h.bindDecision(c)
	if !ok {
		return
	}
	entry, err := h.service.DecideHourEntry(c.Request.Context(), c.Param("id"), decision, principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// SubmitCompensatoryRequest godoc
// @Summary Request compensatory time off
// @Tags Compensatory Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SubmitCompensatoryRequest true "Time-off window"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /compensatory-requests [post]
func (h *LedgerHandler) SubmitCompensatoryRequest(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitCompensatoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidInput, "invalid compensatory request payload"))
		return
	}
	request, err := h.service.SubmitCompensatoryRequest(c.Request.Context(), principal.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// DecideCompensatoryRequest godoc
// @Summary Accept or reject a pending compensatory request
// @Tags Compensatory Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /compensatory-requests/{id}/decision [post]
func (h *LedgerHandler) DecideCompensatoryRequest(c *gin.Context) {
	principal, decision, ok := h.bindDecision(c)
	if !ok {
		return
	}
	view, err := h.service.Decide(c.Request.Context(), c.Param("id"), decision, principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

func (h *LedgerHandler) bindDecision(c *gin.Context) (models.Principal, models.Decision, bool) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, "", false
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidInput, "decision is required"))
		return models.Principal{}, "", false
	}
	return principal, models.Decision(strings.ToUpper(strings.TrimSpace(string(req.Decision)))), true
}

// MyBalance godoc
// @Summary Current redeemable balance of the caller
// @Tags Balance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /balance [get]
func (h *LedgerHandler) MyBalance(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.writeBalance(c, principal.UserID)
}

// UserBalance godoc
// @Summary Redeemable balance of a user
// @Tags Balance
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/balance [get]
func (h *LedgerHandler) UserBalance(c *gin.Context) {
	h.writeBalance(c, c.Param("id"))
}

func (h *LedgerHandler) writeBalance(c *gin.Context, userID string) {
	balance, err := h.service.CurrentBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance)
}

// ListHourEntries godoc
// @Summary List hour entries
// @Description Workers see their own entries; administrators may pass userId.
// @Tags Hours
// @Produce json
// @Security BearerAuth
// @Param userId query string false "User ID (administrators)"
// @Param status query string false "Comma separated statuses"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /hours [get]
func (h *LedgerHandler) ListHourEntries(c *gin.Context) {
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}
	entries, err := h.service.ListHourEntries(c.Request.Context(), models.HourEntryFilter{
		UserID: query.UserID,
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// ListCompensatoryRequests godoc
// @Summary List compensatory requests with effective status
// @Tags Compensatory Requests
// @Produce json
// @Security BearerAuth
// @Param userId query string false "User ID (administrators)"
// @Param status query string false "Comma separated statuses"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /compensatory-requests [get]
func (h *LedgerHandler) ListCompensatoryRequests(c *gin.Context) {
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}
	views, err := h.service.ListCompensatoryRequests(c.Request.Context(), models.CompensatoryRequestFilter{
		UserID: query.UserID,
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, map[string]interface{}{"count": len(views)})
}

func (h *LedgerHandler) bindQuery(c *gin.Context) (dto.LedgerQuery, bool) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return dto.LedgerQuery{}, false
	}
	limit, okLimit := queryInt(c, "limit")
	offset, okOffset := queryInt(c, "offset")
	if !okLimit || !okOffset {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidInput, "limit and offset must be non-negative integers"))
		return dto.LedgerQuery{}, false
	}
	query := dto.LedgerQuery{
		UserID: principal.UserID,
		Status: parseStatuses(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if principal.IsAdmin() {
		query.UserID = strings.TrimSpace(c.Query("userId"))
	}
	return query, true
}
