package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/maynagashev/datakeeper/internal/models"
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode = "23505"
)

// FileRepository определяет методы для работы с записями о загруженных файлах.
type FileRepository interface {
	Create(ctx context.Context, file *models.FileRecord) error
	GetByID(ctx context.Context, fileID string) (*models.FileRecord, error)
	MarkProcessed(ctx context.Context, fileID string) error
	SetProcessingError(ctx context.Context, fileID string, message string) error
}

// postgresFileRepository реализует FileRepository для PostgreSQL.
type postgresFileRepository struct {
	db *sqlx.DB
}

// NewPostgresFileRepository создает новый экземпляр репозитория файлов.
func NewPostgresFileRepository(db *sqlx.DB) FileRepository {
	return &postgresFileRepository{db: db}
}

// Create сохраняет запись о загруженном файле.
// Временные метки проставляет БД, они считываются обратно в запись.
func (r *postgresFileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	query := `INSERT INTO files
	          (id, filename, original_name, mime_type, size_bytes, path, client_id, user_id, schema, storage_type)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		file.ID, file.Filename, file.OriginalName, file.MimeType, file.Size,
		file.Path, file.ClientID, file.UserID, file.Schema, file.StorageType,
	).Scan(&file.CreatedAt, &file.UpdatedAt)

	if err != nil {
		// Проверяем на нарушение уникальности пути внутри бэкенда
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Printf("[FileRepo] Ошибка создания записи: путь '%s' уже занят в бэкенде '%s'",
				file.Path, file.StorageType)
			return fmt.Errorf("путь '%s' уже существует: %w", file.Path, err)
		}
		log.Printf("[FileRepo] Непредвиденная ошибка при создании записи о файле '%s': %v", file.OriginalName, err)
		return fmt.Errorf("ошибка выполнения запроса на создание записи о файле: %w", err)
	}

	log.Printf("[FileRepo] Запись о файле '%s' создана (ID: %s)", file.OriginalName, file.ID)
	return nil
}

// GetByID находит запись о файле по идентификатору.
func (r *postgresFileRepository) GetByID(ctx context.Context, fileID string) (*models.FileRecord, error) {
	query := `SELECT id, filename, original_name, mime_type, size_bytes, path, client_id, user_id,
	                 schema, is_processed, storage_type, processing_error, created_at, updated_at
	          FROM files WHERE id=$1`
	var file models.FileRecord

	err := r.db.GetContext(ctx, &file, query, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[FileRepo] Файл с ID %s не найден", fileID)
			return nil, ErrFileNotFound // Кастомная ошибка
		}
		log.Printf("[FileRepo] Ошибка при поиске файла ID %s: %v", fileID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение файла: %w", err)
	}

	log.Printf("[FileRepo] Найден файл '%s' (ID: %s)", file.OriginalName, file.ID)
	return &file, nil
}

// MarkProcessed устанавливает флаг is_processed и сбрасывает ошибку обработки.
// Флаг переходит false -> true ровно один раз, по полному успеху обработки.
func (r *postgresFileRepository) MarkProcessed(ctx context.Context, fileID string) error {
	query := `UPDATE files SET is_processed=TRUE, processing_error=NULL, updated_at=NOW() WHERE id=$1`

	res, err := r.db.ExecContext(ctx, query, fileID)
	if err != nil {
		log.Printf("[FileRepo] Ошибка при установке флага обработки для файла ID %s: %v", fileID, err)
		return fmt.Errorf("ошибка выполнения запроса на установку флага обработки: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа обновленных строк: %w", err)
	}
	if affected == 0 {
		log.Printf("[FileRepo] Файл ID %s не найден при установке флага обработки", fileID)
		return ErrFileNotFound
	}

	log.Printf("[FileRepo] Файл ID %s помечен обработанным", fileID)
	return nil
}

// SetProcessingError записывает текст последней ошибки обработки файла.
func (r *postgresFileRepository) SetProcessingError(ctx context.Context, fileID string, message string) error {
	query := `UPDATE files SET processing_error=$2, updated_at=NOW() WHERE id=$1`

	if _, err := r.db.ExecContext(ctx, query, fileID, message); err != nil {
		log.Printf("[FileRepo] Ошибка при записи ошибки обработки для файла ID %s: %v", fileID, err)
		return fmt.Errorf("ошибка выполнения запроса на запись ошибки обработки: %w", err)
	}

	log.Printf("[FileRepo] Для файла ID %s записана ошибка обработки", fileID)
	return nil
}

// Кастомные ошибки репозитория файлов.
var (
	ErrFileNotFound = errors.New("файл не найден")
)
