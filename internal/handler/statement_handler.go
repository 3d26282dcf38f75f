package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/comphours-api/internal/service"
	"github.com/noah-isme/comphours-api/pkg/response"
)

type statementRenderer interface {
	Render(ctx context.Context, userID string, format service.StatementFormat) (*service.RenderedStatement, error)
}

// StatementHandler serves ledger statements as file downloads.
type StatementHandler struct {
	service statementRenderer
}

// NewStatementHandler constructs the handler.
func NewStatementHandler(service statementRenderer) *StatementHandler {
	return &StatementHandler{service: service}
}

// Download godoc
// @Summary Download a ledger statement
// @Tags Balance
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /users/{id}/statement [get]
func (h *StatementHandler) Download(c *gin.Context) {
	format := service.StatementFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))
	rendered, err := h.service.Render(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, rendered.Filename, rendered.ContentType, rendered.Body)
}
