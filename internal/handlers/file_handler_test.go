package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/datakeeper/internal/handlers"
	"github.com/maynagashev/datakeeper/internal/middleware"
	"github.com/maynagashev/datakeeper/internal/models"
	"github.com/maynagashev/datakeeper/internal/repository"
	"github.com/maynagashev/datakeeper/internal/services"
)

// --- Mocks ---

// MockFileService is a mock for services.FileService.
type MockFileService struct {
	mock.Mock
}

func (m *MockFileService) Upload(ctx context.Context, params services.UploadParams) (*models.FileRecord, error) {
	args := m.Called(ctx, params)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.FileRecord), args.Error(1)
}

func (m *MockFileService) Download(
	ctx context.Context,
	fileID, userID, clientID string,
) (*services.DownloadResult, error) {
	args := m.Called(ctx, fileID, userID, clientID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*services.DownloadResult), args.Error(1)
}

func (m *MockFileService) Process(
	ctx context.Context,
	fileID, userID, clientID string,
) ([]models.ProcessedRecord, error) {
	args := m.Called(ctx, fileID, userID, clientID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.ProcessedRecord), args.Error(1)
}

func (m *MockFileService) ListProcessed(
	ctx context.Context,
	fileID string,
	page, limit int,
	userID, clientID string,
) (*services.ProcessedPage, error) {
	args := m.Called(ctx, fileID, page, limit, userID, clientID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*services.ProcessedPage), args.Error(1)
}

func (m *MockFileService) UpdateField(
	ctx context.Context,
	fileID, recordID, fieldName string,
	value models.CellValue,
	userID, clientID string,
) (*models.ProcessedRecord, error) {
	args := m.Called(ctx, fileID, recordID, fieldName, value, userID, clientID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.ProcessedRecord), args.Error(1)
}

// MockAuditService is a mock for services.AuditService.
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Log(ctx context.Context, action, userID, clientID, resourceType, resourceID, errText string) {
	m.Called(ctx, action, userID, clientID, resourceType, resourceID, errText)
}

func (m *MockAuditService) List(
	ctx context.Context,
	filter repository.AuditLogFilter,
	page, limit int,
) (*services.AuditPage, error) {
	args := m.Called(ctx, filter, page, limit)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*services.AuditPage), args.Error(1)
}

// --- Helpers ---

// newFileRouter собирает роутер с маршрутами файлов, как в main.
func newFileRouter(h *handlers.FileHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/files", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/{id}", h.Download)
		r.Post("/{id}/process", h.Process)
		r.Get("/{id}/data", h.ListProcessed)
		r.Patch("/{id}/data/{recordId}", h.UpdateField)
	})
	return r
}

// withIdentity кладет идентификаторы в контекст запроса, как это делает
// middleware аутентификации.
func withIdentity(req *http.Request, userID, clientID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	ctx = context.WithValue(ctx, middleware.ClientIDKey, clientID)
	return req.WithContext(ctx)
}

// buildMultipart собирает multipart-форму загрузки с CSV-файлом.
func buildMultipart(t *testing.T, filename, contentType, content, metadata, storageType string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	if metadata != "" {
		require.NoError(t, writer.WriteField("metadata", metadata))
	}
	if storageType != "" {
		require.NoError(t, writer.WriteField("storage_type", storageType))
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

// --- Tests ---

func TestFileHandler_Upload(t *testing.T) {
	t.Run("Успешная загрузка", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		content := "name,age\nAlice,30\n"
		body, contentType := buildMultipart(t, "data.csv", "text/csv", content,
			`{"age":{"required":true,"type":"number"}}`, "local")

		created := &models.FileRecord{ID: "file-1", OriginalName: "data.csv", ClientID: "client-1"}
		fileService.On("Upload", mock.Anything, mock.MatchedBy(func(p services.UploadParams) bool {
			return p.OriginalName == "data.csv" &&
				p.MimeType == "text/csv" &&
				p.StorageType == "local" &&
				p.UserID == "user-1" &&
				p.ClientID == "client-1" &&
				p.Schema.Len() == 1
		})).Return(created, nil).Once()
		auditService.On("Log", mock.Anything, "upload", "user-1", "client-1", "file", "file-1", "").Once()

		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", contentType)
		req = withIdentity(req, "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		var resp models.FileRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "file-1", resp.ID)
		fileService.AssertExpectations(t)
		auditService.AssertExpectations(t)
	})

	t.Run("Запрос без файла отклоняется", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		require.NoError(t, writer.WriteField("metadata", "{}"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = withIdentity(req, "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		fileService.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	})

	t.Run("Некорректные метаданные отклоняются", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body, contentType := buildMultipart(t, "data.csv", "text/csv", "name\n", `не json`, "")

		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", contentType)
		req = withIdentity(req, "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		fileService.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	})

	t.Run("Неподдерживаемый тип файла", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body, contentType := buildMultipart(t, "doc.pdf", "application/pdf", "%PDF-1.4", "", "")

		fileService.On("Upload", mock.Anything, mock.Anything).
			Return(nil, services.ErrUnsupportedMediaType).Once()
		auditService.On("Log", mock.Anything, "upload", "user-1", "client-1", "file", "",
			mock.AnythingOfType("string")).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", contentType)
		req = withIdentity(req, "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
		auditService.AssertExpectations(t)
	})

	t.Run("Без идентификаторов в контексте", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body, contentType := buildMultipart(t, "data.csv", "text/csv", "name\n", "", "")
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestFileHandler_Download(t *testing.T) {
	t.Run("Успешное скачивание с заголовками", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		content := "name,age\nAlice,30\n"
		result := &services.DownloadResult{
			Reader:       io.NopCloser(strings.NewReader(content)),
			OriginalName: "data.csv",
			MimeType:     "text/csv",
			Size:         int64(len(content)),
		}
		fileService.On("Download", mock.Anything, "file-1", "user-1", "client-1").Return(result, nil).Once()
		auditService.On("Log", mock.Anything, "download", "user-1", "client-1", "file", "file-1", "").Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/file-1", nil), "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, `attachment; filename="data.csv"`, rr.Header().Get("Content-Disposition"))
		assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
		assert.Equal(t, content, rr.Body.String())
		auditService.AssertExpectations(t)
	})

	t.Run("Файл не найден", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("Download", mock.Anything, "missing", "user-1", "client-1").
			Return(nil, services.ErrFileNotFound).Once()
		auditService.On("Log", mock.Anything, "download", "user-1", "client-1", "file", "missing",
			mock.AnythingOfType("string")).Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/missing", nil), "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Чужой файл", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("Download", mock.Anything, "file-1", "user-2", "client-2").
			Return(nil, services.ErrAccessDenied).Once()
		auditService.On("Log", mock.Anything, "download", "user-2", "client-2", "file", "file-1",
			mock.AnythingOfType("string")).Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/file-1", nil), "user-2", "client-2")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Сбой хранилища", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("Download", mock.Anything, "file-1", "user-1", "client-1").
			Return(nil, errors.New("minio unavailable")).Once()
		auditService.On("Log", mock.Anything, "download", "user-1", "client-1", "file", "file-1",
			mock.AnythingOfType("string")).Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/file-1", nil), "user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestFileHandler_Process(t *testing.T) {
	t.Run("Успешная обработка возвращает строки", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		records := []models.ProcessedRecord{
			{ID: "r-1", FileID: "file-1", RowIndex: 0, Data: models.Row{"age": models.StringValue("30")}},
			{ID: "r-2", FileID: "file-1", RowIndex: 1, Data: models.Row{"age": models.StringValue("abc")}},
		}
		fileService.On("Process", mock.Anything, "file-1", "user-1", "client-1").Return(records, nil).Once()
		auditService.On("Log", mock.Anything, "process", "user-1", "client-1", "file", "file-1", "").Once()

		req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/files/file-1/process", nil),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp []models.ProcessedRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp, 2)
		assert.Equal(t, "r-1", resp[0].ID)
		auditService.AssertExpectations(t)
	})

	t.Run("Повторная обработка дает конфликт", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("Process", mock.Anything, "file-1", "user-1", "client-1").
			Return(nil, services.ErrAlreadyProcessed).Once()
		auditService.On("Log", mock.Anything, "process", "user-1", "client-1", "file", "file-1",
			mock.AnythingOfType("string")).Once()

		req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/files/file-1/process", nil),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestFileHandler_ListProcessed(t *testing.T) {
	t.Run("Параметры пагинации из запроса", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		page := &services.ProcessedPage{
			Data:       []models.ProcessedRecord{{ID: "r-11", RowIndex: 10}},
			Total:      25,
			Page:       2,
			Limit:      10,
			TotalPages: 3,
		}
		fileService.On("ListProcessed", mock.Anything, "file-1", 2, 10, "user-1", "client-1").
			Return(page, nil).Once()

		req := withIdentity(
			httptest.NewRequest(http.MethodGet, "/api/files/file-1/data?page=2&limit=10", nil),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp services.ProcessedPage
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int64(25), resp.Total)
		assert.Equal(t, 3, resp.TotalPages)
		fileService.AssertExpectations(t)
	})

	t.Run("Без параметров запроса передаются нули", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		page := &services.ProcessedPage{Data: []models.ProcessedRecord{}, Page: 1, Limit: 10}
		fileService.On("ListProcessed", mock.Anything, "file-1", 0, 0, "user-1", "client-1").
			Return(page, nil).Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/file-1/data", nil),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		fileService.AssertExpectations(t)
	})

	t.Run("Файл не найден", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("ListProcessed", mock.Anything, "missing", 0, 0, "user-1", "client-1").
			Return(nil, services.ErrFileNotFound).Once()

		req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/files/missing/data", nil),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestFileHandler_UpdateField(t *testing.T) {
	t.Run("Успешное изменение поля", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		updated := &models.ProcessedRecord{
			ID:     "r-1",
			FileID: "file-1",
			Data:   models.Row{"age": models.NumberValue(31)},
		}
		fileService.On("UpdateField", mock.Anything, "file-1", "r-1", "age",
			models.NumberValue(31), "user-1", "client-1").Return(updated, nil).Once()
		auditService.On("Log", mock.Anything, "update", "user-1", "client-1", "record", "r-1", "").Once()

		body := strings.NewReader(`{"field":"age","value":31}`)
		req := withIdentity(httptest.NewRequest(http.MethodPatch, "/api/files/file-1/data/r-1", body),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp models.ProcessedRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.NumberValue(31), resp.Data["age"])
		fileService.AssertExpectations(t)
		auditService.AssertExpectations(t)
	})

	t.Run("Пустое имя поля отклоняется", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body := strings.NewReader(`{"field":"","value":"x"}`)
		req := withIdentity(httptest.NewRequest(http.MethodPatch, "/api/files/file-1/data/r-1", body),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		fileService.AssertNotCalled(t, "UpdateField",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything,
			mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Некорректное тело запроса отклоняется", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		body := strings.NewReader(`{"field":"age","value":[1,2]}`)
		req := withIdentity(httptest.NewRequest(http.MethodPatch, "/api/files/file-1/data/r-1", body),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Строка из другого файла", func(t *testing.T) {
		fileService := new(MockFileService)
		auditService := new(MockAuditService)
		h := handlers.NewFileHandler(fileService, auditService)

		fileService.On("UpdateField", mock.Anything, "file-1", "r-9", "age",
			models.StringValue("31"), "user-1", "client-1").
			Return(nil, services.ErrRecordNotFound).Once()
		auditService.On("Log", mock.Anything, "update", "user-1", "client-1", "record", "r-9",
			mock.AnythingOfType("string")).Once()

		body := strings.NewReader(`{"field":"age","value":"31"}`)
		req := withIdentity(httptest.NewRequest(http.MethodPatch, "/api/files/file-1/data/r-9", body),
			"user-1", "client-1")
		rr := httptest.NewRecorder()

		newFileRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
