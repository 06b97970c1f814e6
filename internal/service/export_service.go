package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/pkg/export"
	"github.com/noah-isme/attendance-core-api/pkg/storage"
)

type exportDataSource interface {
	Unresolved(ctx context.Context, date time.Time, scope models.RosterScope) ([]models.UnresolvedStudent, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService builds attendance datasets and persists rendered files.
type ExportService struct {
	data    exportDataSource
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(data exportDataSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		data:    data,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	datePart := sanitizeFilename(job.Params.Date)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), datePart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ExportTypeUnresolved:
		return s.buildUnresolvedDataset(ctx, job.Params)
	case models.ExportTypeDayLog:
		return s.buildDayLogDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export type %s", job.Type)
	}
}

func (s *ExportService) buildUnresolvedDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	date, err := time.Parse(dateLayout, params.Date)
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("invalid export date %q: %w", params.Date, err)
	}
	scope := models.RosterScope{Grade: params.Grade, Section: params.Section}
	rows, err := s.data.Unresolved(ctx, models.DateOf(date), scope)
	if err != nil {
		return export.Dataset{}, "", err
	}

	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		checkIn := ""
		if row.Record != nil && row.Record.CheckInTime != nil {
			checkIn = *row.Record.CheckInTime
		}
		dataRows = append(dataRows, map[string]string{
			"Student ID": row.Student.ID,
			"Name":       row.Student.FullName,
			"Grade":      fmt.Sprintf("%d", row.Student.Grade),
			"Section":    row.Student.Section,
			"Status":     string(row.Status),
			"Check-In":   checkIn,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Name", "Grade", "Section", "Status", "Check-In"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Unresolved Attendance %s", params.Date)
	return dataset, title, nil
}

func (s *ExportService) buildDayLogDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	date, err := time.Parse(dateLayout, params.Date)
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("invalid export date %q: %w", params.Date, err)
	}
	day := models.DateOf(date)
	filter := models.AttendanceFilter{
		DateFrom: &day,
		DateTo:   &day,
		Grade:    params.Grade,
		Section:  params.Section,
		Page:     1,
		PageSize: 200,
		SortBy:   "check_in_time",
	}

	dataRows := make([]map[string]string, 0, 64)
	for {
		rows, total, err := s.data.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, row := range rows {
			checkIn := ""
			if row.CheckInTime != nil {
				checkIn = *row.CheckInTime
			}
			dataRows = append(dataRows, map[string]string{
				"Student ID": row.StudentID,
				"Name":       row.StudentName,
				"Grade":      fmt.Sprintf("%d", row.Grade),
				"Section":    row.Section,
				"Status":     string(row.Status),
				"Check-In":   checkIn,
			})
		}
		if len(dataRows) >= total || len(rows) == 0 {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: []string{"Student ID", "Name", "Grade", "Section", "Status", "Check-In"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Attendance Log %s", params.Date)
	return dataset, title, nil
}
