package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nexis-edu/student-api/internal/models"
	appErrors "github.com/nexis-edu/student-api/pkg/errors"
	"github.com/nexis-edu/student-api/pkg/export"
)

// Export formats supported by the roster export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var rosterHeaders = []string{"Record ID", "First Name", "Last Name", "Email", "Major", "Level", "Status", "GPA", "Enrolled"}

// ExportResult carries a rendered export document.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportService renders student rosters as downloadable documents.
type ExportService struct {
	repo   studentRepository
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(repo studentRepository, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:   repo,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// Roster exports the students matching the filter. Pagination is walked
// internally so the document holds the full matching set.
func (s *ExportService) Roster(ctx context.Context, filter models.StudentFilter, format string) (*ExportResult, error) {
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if filter.Status == "" {
		filter.Status = models.StatusActive
	}

	filter.Limit = 100
	filter.Page = 1

	var all []models.Student
	for {
		students, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		all = append(all, students...)
		if len(students) == 0 || len(all) >= total {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{Headers: rosterHeaders, Rows: make([]map[string]string, 0, len(all))}
	for i := range all {
		st := &all[i]
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Record ID":  st.RecordID,
			"First Name": st.FirstName,
			"Last Name":  st.LastName,
			"Email":      st.Email,
			"Major":      string(st.Major),
			"Level":      string(st.Level),
			"Status":     string(st.Status),
			"GPA":        strconv.FormatFloat(st.GPA, 'f', 2, 64),
			"Enrolled":   st.EnrollmentDate.Format("2006-01-02"),
		})
	}

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, "Student Roster")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("students-%s.pdf", stamp),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("students-%s.csv", stamp),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	}
}
