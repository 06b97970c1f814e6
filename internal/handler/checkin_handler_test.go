package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/service"
	"github.com/noah-isme/attendance-core-api/pkg/response"
)

type attendanceRepoMock struct {
	existing *models.AttendanceRecord
}

func (m *attendanceRepoMock) GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*models.AttendanceRecord, error) {
	if m.existing != nil {
		return m.existing, nil
	}
	return nil, sql.ErrNoRows
}

func (m *attendanceRepoMock) InsertCheckIn(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	record.ID = "rec-1"
	return record, nil
}

func (m *attendanceRepoMock) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	return nil, 0, nil
}

func (m *attendanceRepoMock) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	return nil, nil
}

type studentReaderMock struct{}

func (m *studentReaderMock) GetByID(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, FullName: "Alice Moran", Grade: 10, Section: "A", Active: true}, nil
}

func (m *studentReaderMock) GetByCardID(ctx context.Context, cardID string) (*models.Student, error) {
	return nil, sql.ErrNoRows
}

type holidayGateMock struct{}

func (m *holidayGateMock) Lookup(ctx context.Context, date time.Time) (*models.HolidayCheck, error) {
	return &models.HolidayCheck{}, nil
}

type policyProviderMock struct{}

func (m *policyProviderMock) GetActive(ctx context.Context) (*models.AttendancePolicy, error) {
	return &models.AttendancePolicy{
		ID:            "pol-1",
		StartTime:     "07:00:00",
		LateThreshold: "08:00:00",
		EndTime:       "09:00:00",
		IsActive:      true,
	}, nil
}

func newCheckInHandler(repo *attendanceRepoMock) *CheckInHandler {
	svc := service.NewCheckInService(repo, &studentReaderMock{}, &holidayGateMock{}, &policyProviderMock{}, nil, nil)
	return NewCheckInHandler(svc, service.NewMetricsService())
}

func postCheckIn(t *testing.T, handler *CheckInHandler, payload service.CheckInRequest) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "/checkins", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	handler.Record(c)
	return w
}

func TestCheckInHandlerRecordCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckInHandler(&attendanceRepoMock{})

	w := postCheckIn(t, handler, service.CheckInRequest{
		StudentID: "stu-1",
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Error)
	assert.NotNil(t, envelope.Data)
}

func TestCheckInHandlerRecordDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckInHandler(&attendanceRepoMock{existing: &models.AttendanceRecord{ID: "rec-0", StudentID: "stu-1"}})

	w := postCheckIn(t, handler, service.CheckInRequest{
		StudentID: "stu-1",
		Timestamp: time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "DUPLICATE", envelope.Error.Code)
}

func TestCheckInHandlerRecordBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckInHandler(&attendanceRepoMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, "/checkins", bytes.NewReader([]byte(`not json`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Record(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
