package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/datakeeper/internal/middleware"
	"github.com/maynagashev/datakeeper/internal/models"
	"github.com/maynagashev/datakeeper/internal/services"
	"github.com/maynagashev/datakeeper/internal/storage"
)

// Максимальный размер multipart-формы при загрузке (32 МБ в памяти,
// остальное во временных файлах).
const maxUploadMemory = 32 << 20

// Типы ресурсов и действия для журнала API-действий.
const (
	resourceFile   = "file"
	resourceRecord = "record"

	actionUpload   = "upload"
	actionDownload = "download"
	actionProcess  = "process"
	actionUpdate   = "update"
)

// FileHandler обрабатывает HTTP-запросы, связанные с файлами.
type FileHandler struct {
	fileService  services.FileService
	auditService services.AuditService
}

// NewFileHandler создает новый экземпляр FileHandler.
func NewFileHandler(fs services.FileService, as services.AuditService) *FileHandler {
	return &FileHandler{fileService: fs, auditService: as}
}

// identity извлекает идентификаторы пользователя и клиента из контекста.
// Отсутствие любого из них — внутренняя ошибка: middleware обязан их положить.
func identity(r *http.Request) (userID, clientID string, ok bool) {
	userID, okUser := middleware.GetUserIDFromContext(r.Context())
	clientID, okClient := middleware.GetClientIDFromContext(r.Context())
	return userID, clientID, okUser && okClient
}

// statusFromError сопоставляет ошибку сервисного слоя с HTTP-статусом.
// Вызывающие ветвятся по виду ошибки, а не по тексту сообщения.
func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrFileNotFound):
		return http.StatusNotFound, "Файл не найден"
	case errors.Is(err, services.ErrRecordNotFound):
		return http.StatusNotFound, "Запись не найдена"
	case errors.Is(err, services.ErrAccessDenied):
		return http.StatusForbidden, "Доступ запрещен"
	case errors.Is(err, services.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "Поддерживаются только файлы CSV и XLSX"
	case errors.Is(err, services.ErrUnknownStorage):
		return http.StatusBadRequest, "Неизвестный тип хранилища"
	case errors.Is(err, services.ErrAlreadyProcessed):
		return http.StatusConflict, "Файл уже обработан"
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, "Файл отсутствует в хранилище"
	default:
		return http.StatusServiceUnavailable, "Хранилище временно недоступно"
	}
}

// writeJSON кодирует ответ в JSON.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[FileHandler] Ошибка кодирования ответа: %v", err)
	}
}

// Upload обрабатывает POST запрос на загрузку табличного файла.
// Форма multipart: file — сам файл, metadata — JSON-строка со схемой
// валидации, storage_type — идентификатор бэкенда (по умолчанию "object").
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, clientID, ok := identity(r)
	if !ok {
		log.Printf("[FileHandler:Upload] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		log.Printf("[FileHandler:Upload] Ошибка разбора multipart-формы: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("[FileHandler:Upload] В запросе отсутствует файл: %v", err)
		http.Error(w, "Файл не передан", http.StatusBadRequest)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("[FileHandler:Upload] Ошибка закрытия файла формы: %v", closeErr)
		}
	}()

	// Схема валидации передается JSON-строкой в поле metadata
	var schema models.Schema
	if metadata := r.FormValue("metadata"); metadata != "" {
		if err = json.Unmarshal([]byte(metadata), &schema); err != nil {
			log.Printf("[FileHandler:Upload] Неверный формат метаданных: %v", err)
			http.Error(w, "Неверный формат метаданных", http.StatusBadRequest)
			return
		}
	}

	mimeType := header.Header.Get("Content-Type")
	params := services.UploadParams{
		Reader:       file,
		Size:         header.Size,
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Schema:       schema,
		UserID:       userID,
		ClientID:     clientID,
		StorageType:  r.FormValue("storage_type"),
	}

	log.Printf("[FileHandler:Upload] Загрузка файла '%s' (%s, %d байт) от пользователя %s",
		header.Filename, mimeType, header.Size, userID)

	record, err := h.fileService.Upload(r.Context(), params)
	if err != nil {
		status, msg := statusFromError(err)
		log.Printf("[FileHandler:Upload] Ошибка загрузки файла '%s': %v", header.Filename, err)
		h.auditService.Log(r.Context(), actionUpload, userID, clientID, resourceFile, "", err.Error())
		http.Error(w, msg, status)
		return
	}

	h.auditService.Log(r.Context(), actionUpload, userID, clientID, resourceFile, record.ID, "")
	writeJSON(w, http.StatusCreated, record)
}

// Download обрабатывает GET запрос на скачивание исходного файла.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, clientID, ok := identity(r)
	if !ok {
		log.Printf("[FileHandler:Download] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	fileID := chi.URLParam(r, "id")
	log.Printf("[FileHandler:Download] Запрос на скачивание файла %s от пользователя %s", fileID, userID)

	result, err := h.fileService.Download(r.Context(), fileID, userID, clientID)
	if err != nil {
		status, msg := statusFromError(err)
		log.Printf("[FileHandler:Download] Ошибка скачивания файла %s: %v", fileID, err)
		h.auditService.Log(r.Context(), actionDownload, userID, clientID, resourceFile, fileID, err.Error())
		http.Error(w, msg, status)
		return
	}
	defer func() {
		if closeErr := result.Reader.Close(); closeErr != nil {
			log.Printf("[FileHandler:Download] Ошибка закрытия reader'а: %v", closeErr)
		}
	}()

	// Устанавливаем заголовки для скачивания файла
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.OriginalName+`"`)
	w.Header().Set("Content-Type", result.MimeType)
	if result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	}

	if _, err = io.Copy(w, result.Reader); err != nil {
		log.Printf("[FileHandler:Download] Ошибка копирования данных файла %s в ответ: %v", fileID, err)
		return
	}

	h.auditService.Log(r.Context(), actionDownload, userID, clientID, resourceFile, fileID, "")
	log.Printf("[FileHandler:Download] Файл %s успешно отправлен", fileID)
}

// Process обрабатывает POST запрос на запуск обработки файла.
func (h *FileHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID, clientID, ok := identity(r)
	if !ok {
		log.Printf("[FileHandler:Process] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	fileID := chi.URLParam(r, "id")
	log.Printf("[FileHandler:Process] Запрос на обработку файла %s от пользователя %s", fileID, userID)

	records, err := h.fileService.Process(r.Context(), fileID, userID, clientID)
	if err != nil {
		status, msg := statusFromError(err)
		log.Printf("[FileHandler:Process] Ошибка обработки файла %s: %v", fileID, err)
		h.auditService.Log(r.Context(), actionProcess, userID, clientID, resourceFile, fileID, err.Error())
		http.Error(w, msg, status)
		return
	}

	h.auditService.Log(r.Context(), actionProcess, userID, clientID, resourceFile, fileID, "")
	writeJSON(w, http.StatusOK, records)
}

// ListProcessed обрабатывает GET запрос на постраничную выборку
// обработанных строк файла.
func (h *FileHandler) ListProcessed(w http.ResponseWriter, r *http.Request) {
	userID, clientID, ok := identity(r)
	if !ok {
		log.Printf("[FileHandler:ListProcessed] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	fileID := chi.URLParam(r, "id")

	// Параметры пагинации: значения по умолчанию применяет сервис
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	pageResult, err := h.fileService.ListProcessed(r.Context(), fileID, page, limit, userID, clientID)
	if err != nil {
		status, msg := statusFromError(err)
		log.Printf("[FileHandler:ListProcessed] Ошибка выборки строк файла %s: %v", fileID, err)
		http.Error(w, msg, status)
		return
	}

	writeJSON(w, http.StatusOK, pageResult)
}

// updateFieldRequest представляет тело запроса на изменение поля строки.
type updateFieldRequest struct {
	Field string           `json:"field"`
	Value models.CellValue `json:"value"`
}

// UpdateField обрабатывает PATCH запрос на изменение одного поля
// обработанной строки.
func (h *FileHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	userID, clientID, ok := identity(r)
	if !ok {
		log.Printf("[FileHandler:UpdateField] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	fileID := chi.URLParam(r, "id")
	recordID := chi.URLParam(r, "recordId")

	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[FileHandler:UpdateField] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if req.Field == "" {
		http.Error(w, "Не указано имя поля", http.StatusBadRequest)
		return
	}

	log.Printf("[FileHandler:UpdateField] Изменение поля '%s' строки %s файла %s пользователем %s",
		req.Field, recordID, fileID, userID)

	record, err := h.fileService.UpdateField(r.Context(), fileID, recordID, req.Field, req.Value, userID, clientID)
	if err != nil {
		status, msg := statusFromError(err)
		log.Printf("[FileHandler:UpdateField] Ошибка изменения поля строки %s: %v", recordID, err)
		h.auditService.Log(r.Context(), actionUpdate, userID, clientID, resourceRecord, recordID, err.Error())
		http.Error(w, msg, status)
		return
	}

	h.auditService.Log(r.Context(), actionUpdate, userID, clientID, resourceRecord, recordID, "")
	writeJSON(w, http.StatusOK, record)
}
