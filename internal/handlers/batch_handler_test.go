package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/batch"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// stubService scripts BatchService responses per test.
type stubService struct {
	createFn func(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error)
	startErr error
	cancelErr error
	updateErr error
	progress *models.BatchTaskProgress
	progressErr error
	batches  []*models.BatchTask
}

func (s *stubService) Create(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error) {
	return s.createFn(ctx, req)
}

func (s *stubService) Start(ctx context.Context, batchID string) error { return s.startErr }

func (s *stubService) Cancel(ctx context.Context, batchID string) error { return s.cancelErr }

func (s *stubService) UpdateSubTaskProgress(ctx context.Context, batchID, subTaskID string, update *models.SubTaskUpdate) error {
	return s.updateErr
}

func (s *stubService) GetProgress(ctx context.Context, batchID string) (*models.BatchTaskProgress, error) {
	return s.progress, s.progressErr
}

func (s *stubService) List(ctx context.Context, opts *interfaces.BatchListOptions) ([]*models.BatchTask, error) {
	return s.batches, nil
}

func (s *stubService) IsActive(batchID string) bool { return false }

var _ interfaces.BatchService = (*stubService)(nil)

func TestCreateBatchHandler(t *testing.T) {
	service := &stubService{
		createFn: func(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error) {
			return &models.BatchTask{ID: "bat_123", TotalSubtasks: len(req.Variants)}, nil
		},
	}
	handler := NewBatchHandler(service, arbor.NewLogger())

	body, _ := json.Marshal(&models.CreateBatchRequest{
		Name:           "demo",
		MediaType:      "text",
		Model:          "gemini-3-flash-preview",
		PromptTemplate: "write about {topic}",
		Variants:       []map[string]string{{"topic": "go"}, {"topic": "rust"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.CreateBatchHandler(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.CreateBatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "bat_123", resp.BatchID)
	assert.Equal(t, 2, resp.TotalSubtasks)
}

func TestCreateBatchHandlerValidationError(t *testing.T) {
	service := &stubService{
		createFn: func(ctx context.Context, req *models.CreateBatchRequest) (*models.BatchTask, error) {
			return nil, batch.NewValidationError("at least one variant is required")
		},
	}
	handler := NewBatchHandler(service, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()

	handler.CreateBatchHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBatchHandlerBadJSON(t *testing.T) {
	handler := NewBatchHandler(&stubService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	handler.CreateBatchHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBatchHandlerWrongMethod(t *testing.T) {
	handler := NewBatchHandler(&stubService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/batches", nil)
	rec := httptest.NewRecorder()

	handler.CreateBatchHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartBatchHandlerInvalidState(t *testing.T) {
	service := &stubService{
		startErr: &batch.InvalidStateError{BatchID: "bat_1", Status: "running", Operation: "start"},
	}
	handler := NewBatchHandler(service, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches/bat_1/start", nil)
	rec := httptest.NewRecorder()

	handler.StartBatchHandler(rec, req, "bat_1")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartBatchHandlerAccepted(t *testing.T) {
	handler := NewBatchHandler(&stubService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches/bat_1/start", nil)
	rec := httptest.NewRecorder()

	handler.StartBatchHandler(rec, req, "bat_1")

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetBatchProgressHandlerNotFound(t *testing.T) {
	service := &stubService{progressErr: fmt.Errorf("batch not found: bat_missing")}
	handler := NewBatchHandler(service, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/batches/bat_missing", nil)
	rec := httptest.NewRecorder()

	handler.GetBatchProgressHandler(rec, req, "bat_missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatchProgressHandler(t *testing.T) {
	service := &stubService{
		progress: &models.BatchTaskProgress{
			BatchTask: &models.BatchTask{ID: "bat_1", Status: models.BatchStatusRunning},
			SubTasks:  []*models.SubTask{{ID: "sub_1", Status: models.SubTaskStatusRunning, Progress: 40}},
		},
	}
	handler := NewBatchHandler(service, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/batches/bat_1", nil)
	rec := httptest.NewRecorder()

	handler.GetBatchProgressHandler(rec, req, "bat_1")

	require.Equal(t, http.StatusOK, rec.Code)
	var progress models.BatchTaskProgress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&progress))
	assert.Equal(t, "bat_1", progress.ID)
	require.Len(t, progress.SubTasks, 1)
	assert.Equal(t, 40, progress.SubTasks[0].Progress)
}

func TestCancelBatchHandler(t *testing.T) {
	handler := NewBatchHandler(&stubService{}, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches/bat_1/cancel", nil)
	rec := httptest.NewRecorder()

	handler.CancelBatchHandler(rec, req, "bat_1")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateSubTaskHandler(t *testing.T) {
	handler := NewBatchHandler(&stubService{}, arbor.NewLogger())

	body, _ := json.Marshal(&models.SubTaskUpdate{Status: models.SubTaskStatusCompleted})
	req := httptest.NewRequest(http.MethodPut, "/api/batches/bat_1/subtasks/sub_1", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.UpdateSubTaskHandler(rec, req, "bat_1", "sub_1")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListBatchesHandler(t *testing.T) {
	service := &stubService{
		batches: []*models.BatchTask{
			{ID: "bat_1", Status: models.BatchStatusCompleted},
			{ID: "bat_2", Status: models.BatchStatusRunning},
		},
	}
	handler := NewBatchHandler(service, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/batches?limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListBatchesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}
