package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/datakeeper/internal/models"
	"github.com/maynagashev/datakeeper/internal/parser"
	"github.com/maynagashev/datakeeper/internal/repository"
	"github.com/maynagashev/datakeeper/internal/storage"
	"github.com/maynagashev/datakeeper/internal/validator"
)

// Ошибки сервисного слоя. Обработчики сопоставляют их с HTTP-статусами.
var (
	ErrFileNotFound         = errors.New("файл не найден")
	ErrRecordNotFound       = errors.New("обработанная строка не найдена")
	ErrAccessDenied         = errors.New("доступ запрещен")
	ErrAlreadyProcessed     = errors.New("файл уже обработан")
	ErrUnsupportedMediaType = errors.New("неподдерживаемый тип файла")
	ErrUnknownStorage       = errors.New("неизвестный тип хранилища")
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	Reader       io.Reader     // Поток данных файла
	Size         int64         // Размер файла в байтах
	OriginalName string        // Оригинальное имя файла
	MimeType     string        // MIME-тип файла
	Schema       models.Schema // Схема валидации колонок
	UserID       string        // Идентификатор пользователя
	ClientID     string        // Идентификатор клиента (tenant)
	StorageType  string        // Идентификатор бэкенда хранилища, по умолчанию "object"
}

// DownloadResult — результат скачивания файла.
type DownloadResult struct {
	Reader       io.ReadCloser // Нужно закрыть после использования
	OriginalName string
	MimeType     string
	Size         int64
}

// ProcessedPage — страница обработанных строк файла.
type ProcessedPage struct {
	Data       []models.ProcessedRecord `json:"data"`
	Total      int64                    `json:"total"`
	Page       int                      `json:"page"`
	Limit      int                      `json:"limit"`
	TotalPages int                      `json:"totalPages"`
}

// FileService определяет интерфейс сервиса работы с табличными файлами:
// загрузка, скачивание, обработка, постраничная выборка строк и
// точечное редактирование полей.
type FileService interface {
	Upload(ctx context.Context, params UploadParams) (*models.FileRecord, error)
	Download(ctx context.Context, fileID, userID, clientID string) (*DownloadResult, error)
	Process(ctx context.Context, fileID, userID, clientID string) ([]models.ProcessedRecord, error)
	ListProcessed(ctx context.Context, fileID string, page, limit int, userID, clientID string) (*ProcessedPage, error)
	UpdateField(
		ctx context.Context,
		fileID, recordID, fieldName string,
		value models.CellValue,
		userID, clientID string,
	) (*models.ProcessedRecord, error)
}

// Убедимся, что fileService удовлетворяет интерфейсу FileService.
var _ FileService = (*fileService)(nil)

type fileService struct {
	files   repository.FileRepository
	records repository.ProcessedRecordRepository
	router  *storage.Router
}

// NewFileService создает новый экземпляр сервиса файлов.
func NewFileService(
	files repository.FileRepository,
	records repository.ProcessedRecordRepository,
	router *storage.Router,
) FileService {
	return &fileService{files: files, records: records, router: router}
}

// Upload сохраняет байты файла в выбранный бэкенд и создает запись о файле.
// Проверки типа файла и бэкенда выполняются до чтения байтов, чтобы
// невалидный запрос не оставлял частичных записей в хранилище.
func (s *fileService) Upload(ctx context.Context, params UploadParams) (*models.FileRecord, error) {
	if !parser.Supported(params.MimeType) {
		log.Printf("[FileService:Upload] Отклонен файл '%s' неподдерживаемого типа '%s'",
			params.OriginalName, params.MimeType)
		return nil, fmt.Errorf("тип '%s': %w", params.MimeType, ErrUnsupportedMediaType)
	}

	storageType := params.StorageType
	if storageType == "" {
		storageType = storage.TypeObject
	}
	backend, err := s.router.Resolve(storageType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, storageType)
	}

	// Логический путь: клиент/момент загрузки/оригинальное имя
	objectKey := fmt.Sprintf("%s/%d/%s", params.ClientID, time.Now().UnixMilli(), params.OriginalName)

	storedPath, err := backend.Put(ctx, objectKey, params.Reader, params.Size, params.MimeType)
	if err != nil {
		log.Printf("[FileService:Upload] Ошибка записи файла '%s' в бэкенд '%s': %v",
			params.OriginalName, storageType, err)
		return nil, fmt.Errorf("ошибка записи файла в хранилище: %w", err)
	}

	file := &models.FileRecord{
		ID:           uuid.NewString(),
		Filename:     storedPath,
		OriginalName: params.OriginalName,
		MimeType:     params.MimeType,
		Size:         params.Size,
		Path:         storedPath,
		ClientID:     params.ClientID,
		UserID:       params.UserID,
		Schema:       params.Schema,
		StorageType:  storageType,
	}

	if err = s.files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("ошибка сохранения записи о файле: %w", err)
	}

	log.Printf("[FileService:Upload] Файл '%s' загружен (ID: %s, бэкенд: %s, путь: %s)",
		params.OriginalName, file.ID, storageType, storedPath)
	return file, nil
}

// loadOwnedFile загружает запись о файле и проверяет принадлежность клиенту.
// Файл чужого клиента не раскрывается: возвращается ErrAccessDenied.
func (s *fileService) loadOwnedFile(ctx context.Context, fileID, clientID string) (*models.FileRecord, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи о файле: %w", err)
	}

	if file.ClientID != clientID {
		log.Printf("[FileService] Клиент %s запросил чужой файл %s (владелец: %s)",
			clientID, fileID, file.ClientID)
		return nil, ErrAccessDenied
	}

	return file, nil
}

// Download возвращает поток байтов ранее загруженного файла.
func (s *fileService) Download(ctx context.Context, fileID, userID, clientID string) (*DownloadResult, error) {
	file, err := s.loadOwnedFile(ctx, fileID, clientID)
	if err != nil {
		return nil, err
	}

	backend, err := s.router.Resolve(file.StorageType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, file.StorageType)
	}

	reader, err := backend.Get(ctx, file.Path)
	if err != nil {
		log.Printf("[FileService:Download] Ошибка чтения файла %s из бэкенда '%s': %v",
			fileID, file.StorageType, err)
		return nil, fmt.Errorf("ошибка чтения файла из хранилища: %w", err)
	}

	log.Printf("[FileService:Download] Файл %s отдан пользователю %s", fileID, userID)
	return &DownloadResult{
		Reader:       reader,
		OriginalName: file.OriginalName,
		MimeType:     file.MimeType,
		Size:         file.Size,
	}, nil
}

// Process запускает конвейер обработки файла: чтение байтов из хранилища,
// разбор, построчная валидация по схеме файла и сохранение результатов.
// Ошибки валидации отдельных строк — данные, а не сбой: строка с ошибками
// все равно сохраняется. Инфраструктурный сбой прерывает обработку целиком,
// текст ошибки записывается в файл, флаг is_processed остается снятым, и
// обработку можно повторить.
func (s *fileService) Process(ctx context.Context, fileID, userID, clientID string) ([]models.ProcessedRecord, error) {
	file, err := s.loadOwnedFile(ctx, fileID, clientID)
	if err != nil {
		return nil, err
	}

	// Повторная обработка продублировала бы строки
	if file.IsProcessed {
		log.Printf("[FileService:Process] Файл %s уже обработан", fileID)
		return nil, ErrAlreadyProcessed
	}

	records, err := s.runPipeline(ctx, file, userID)
	if err != nil {
		// Фиксируем ошибку обработки на записи о файле (best effort)
		if setErr := s.files.SetProcessingError(ctx, fileID, err.Error()); setErr != nil {
			log.Printf("[FileService:Process] Не удалось записать ошибку обработки файла %s: %v", fileID, setErr)
		}
		return nil, err
	}

	if err = s.files.MarkProcessed(ctx, fileID); err != nil {
		return nil, fmt.Errorf("ошибка установки флага обработки: %w", err)
	}

	log.Printf("[FileService:Process] Файл %s обработан: %d строк", fileID, len(records))
	return records, nil
}

// runPipeline выполняет шаги конвейера после проверок доступа.
func (s *fileService) runPipeline(
	ctx context.Context,
	file *models.FileRecord,
	userID string,
) ([]models.ProcessedRecord, error) {
	backend, err := s.router.Resolve(file.StorageType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, file.StorageType)
	}

	reader, err := backend.Get(ctx, file.Path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла из хранилища: %w", err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			log.Printf("[FileService:Process] Ошибка закрытия reader'а файла %s: %v", file.ID, closeErr)
		}
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения байтов файла: %w", err)
	}

	rows, err := parser.Parse(data, file.MimeType)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedMediaType) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, file.MimeType)
		}
		return nil, fmt.Errorf("ошибка разбора файла: %w", err)
	}

	now := time.Now().UTC()
	records := make([]models.ProcessedRecord, 0, len(rows))
	for i, row := range rows {
		// RowIndex идет подряд с нуля в порядке строк источника
		records = append(records, models.ProcessedRecord{
			ID:       uuid.NewString(),
			FileID:   file.ID,
			ClientID: file.ClientID,
			RowIndex: i,
			Data:     row,
			Errors:   validator.Validate(row, file.Schema),
			Audit: models.AuditBlock{
				CreatedBy:     userID,
				UpdatedBy:     userID,
				LastUpdated:   now,
				ChangeHistory: []models.ChangeEntry{},
			},
		})
	}

	if err = s.records.CreateBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("ошибка сохранения обработанных строк: %w", err)
	}

	return records, nil
}

// Ограничения пагинации.
const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ListProcessed возвращает страницу обработанных строк файла.
// Нумерация страниц с единицы, сортировка — по возрастанию row_index.
func (s *fileService) ListProcessed(
	ctx context.Context,
	fileID string,
	page, limit int,
	userID, clientID string,
) (*ProcessedPage, error) {
	if _, err := s.loadOwnedFile(ctx, fileID, clientID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	offset := (page - 1) * limit
	records, err := s.records.ListByFileID(ctx, fileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения строк файла: %w", err)
	}

	total, err := s.records.CountByFileID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета строк файла: %w", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	log.Printf("[FileService:ListProcessed] Файл %s: страница %d/%d, %d строк (всего %d)",
		fileID, page, totalPages, len(records), total)
	return &ProcessedPage{
		Data:       records,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// UpdateField изменяет одно поле обработанной строки и добавляет запись в
// историю изменений. Прежнего значения может не быть — это допустимое
// "старое значение" (null). Валидация после правки не перезапускается:
// список errors строки сознательно не пересчитывается.
func (s *fileService) UpdateField(
	ctx context.Context,
	fileID, recordID, fieldName string,
	value models.CellValue,
	userID, clientID string,
) (*models.ProcessedRecord, error) {
	if _, err := s.loadOwnedFile(ctx, fileID, clientID); err != nil {
		return nil, err
	}

	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ошибка получения строки: %w", err)
	}

	// Идентификатор строки из другого файла отклоняется, а не принимается
	// молча: recordID сам по себе не привязан к fileID
	if record.FileID != fileID {
		log.Printf("[FileService:UpdateField] Строка %s принадлежит файлу %s, а не %s",
			recordID, record.FileID, fileID)
		return nil, ErrRecordNotFound
	}

	oldValue, ok := record.Data[fieldName]
	if !ok {
		oldValue = models.NullValue()
	}

	now := time.Now().UTC()
	if record.Data == nil {
		record.Data = make(models.Row, 1)
	}
	record.Data[fieldName] = value

	// История только пополняется, существующие записи не меняются
	record.Audit.ChangeHistory = append(record.Audit.ChangeHistory, models.ChangeEntry{
		Field:     fieldName,
		OldValue:  oldValue,
		NewValue:  value,
		ChangedBy: userID,
		ChangedAt: now,
	})
	record.Audit.UpdatedBy = userID
	record.Audit.LastUpdated = now

	if err = s.records.Save(ctx, record); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("ошибка сохранения строки: %w", err)
	}

	log.Printf("[FileService:UpdateField] Поле '%s' строки %s изменено пользователем %s",
		fieldName, recordID, userID)
	return record, nil
}
