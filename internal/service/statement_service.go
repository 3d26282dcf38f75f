package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
	"github.com/noah-isme/comphours-api/pkg/export"
)

// StatementFormat selects the rendered representation of a statement.
type StatementFormat string

const (
	StatementCSV StatementFormat = "csv"
	StatementPDF StatementFormat = "pdf"
)

type statementSource interface {
	Statement(ctx context.Context, userID string) (*models.Statement, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// RenderedStatement is a generated download.
type RenderedStatement struct {
	Filename    string
	ContentType string
	Body        []byte
}

// StatementService renders a user's ledger history as a downloadable file.
type StatementService struct {
	source    statementSource
	renderers map[StatementFormat]datasetRenderer
	logger    *zap.Logger
}

// NewStatementService constructs a StatementService with CSV and PDF renderers.
func NewStatementService(source statementSource, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementService{
		source: source,
		renderers: map[StatementFormat]datasetRenderer{
			StatementCSV: export.NewCSVExporter(),
			StatementPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// Render builds the statement for userID in the requested format.
func (s *StatementService) Render(ctx context.Context, userID string, format StatementFormat) (*RenderedStatement, error) {
	if format == "" {
		format = StatementCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("unsupported statement format %q", format))
	}

	statement, err := s.source.Statement(ctx, userID)
	if err != nil {
		return nil, err
	}

	body, err := renderer.Render(statementDataset(statement))
	if err != nil {
		s.logger.Error("render statement", zap.String("user_id", userID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}
	return &RenderedStatement{
		Filename:    fmt.Sprintf("statement-%s-%s.%s", userID, statement.Balance.AsOf.Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

var statementHeaders = []string{"Date", "Kind", "Reference", "Detail", "Status", "Hours"}

func statementDataset(st *models.Statement) export.Dataset {
	rows := make([]map[string]string, 0, len(st.Entries)+len(st.Requests))
	for _, entry := range st.Entries {
		kind := "credit"
		switch {
		case entry.IsRedemptionDebit():
			kind = "redemption"
		case entry.Hours < 0:
			kind = "adjustment"
		}
		rows = append(rows, map[string]string{
			"Date":      entry.CreatedAt.UTC().Format(time.RFC3339),
			"Kind":      kind,
			"Reference": entry.ID,
			"Detail":    entry.Description,
			"Status":    string(entry.Status),
			"Hours":     strconv.Itoa(entry.Hours),
		})
	}
	for _, req := range st.Requests {
		rows = append(rows, map[string]string{
			"Date":      req.RequestedAt.UTC().Format(time.RFC3339),
			"Kind":      "request",
			"Reference": req.ID,
			"Detail":    fmt.Sprintf("%s to %s %s", req.From.UTC().Format("2006-01-02 15:04"), req.To.UTC().Format("2006-01-02 15:04"), req.Reason),
			"Status":    string(req.EffectiveStatus),
			"Hours":     models.HoursDecimal(req.DurationHours).StringFixed(2),
		})
	}
	return export.Dataset{
		Title:   "Compensatory hours statement " + st.UserID,
		Headers: statementHeaders,
		Rows:    rows,
		Summary: [][2]string{
			{"Available hours", models.HoursDecimal(st.Balance.AvailableHours).StringFixed(2)},
			{"As of", st.Balance.AsOf.UTC().Format(time.RFC3339)},
		},
	}
}
