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

// ProcessedRecordRepository определяет методы для работы с обработанными
// строками файлов.
type ProcessedRecordRepository interface {
	CreateBatch(ctx context.Context, records []models.ProcessedRecord) error
	GetByID(ctx context.Context, recordID string) (*models.ProcessedRecord, error)
	ListByFileID(ctx context.Context, fileID string, limit, offset int) ([]models.ProcessedRecord, error)
	CountByFileID(ctx context.Context, fileID string) (int64, error)
	Save(ctx context.Context, record *models.ProcessedRecord) error
}

// postgresProcessedRecordRepository реализует ProcessedRecordRepository
// для PostgreSQL.
type postgresProcessedRecordRepository struct {
	db *sqlx.DB
}

// NewPostgresProcessedRecordRepository создает новый экземпляр репозитория
// обработанных строк.
func NewPostgresProcessedRecordRepository(db *sqlx.DB) ProcessedRecordRepository {
	return &postgresProcessedRecordRepository{db: db}
}

// CreateBatch сохраняет все строки одного файла в одной транзакции.
// Либо записываются все строки, либо ни одной: частично обработанный файл
// не должен оставаться в БД.
func (r *postgresProcessedRecordRepository) CreateBatch(ctx context.Context, records []models.ProcessedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer func() {
		// Rollback после успешного Commit безвреден
		_ = tx.Rollback()
	}()

	query := `INSERT INTO processed_records (id, file_id, client_id, row_index, data, errors, audit)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for i := range records {
		rec := &records[i]
		_, err = tx.ExecContext(ctx, query,
			rec.ID, rec.FileID, rec.ClientID, rec.RowIndex, rec.Data, rec.Errors, rec.Audit,
		)
		if err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
				log.Printf("[RecordRepo] Строка %d файла %s уже существует", rec.RowIndex, rec.FileID)
				return fmt.Errorf("строка %d файла %s: %w", rec.RowIndex, rec.FileID, ErrDuplicateRow)
			}
			log.Printf("[RecordRepo] Ошибка вставки строки %d файла %s: %v", rec.RowIndex, rec.FileID, err)
			return fmt.Errorf("ошибка выполнения запроса на вставку строки: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	log.Printf("[RecordRepo] Сохранено %d строк файла %s", len(records), records[0].FileID)
	return nil
}

// GetByID находит обработанную строку по идентификатору.
func (r *postgresProcessedRecordRepository) GetByID(
	ctx context.Context,
	recordID string,
) (*models.ProcessedRecord, error) {
	query := `SELECT id, file_id, client_id, row_index, data, errors, audit, created_at, updated_at
	          FROM processed_records WHERE id=$1`
	var record models.ProcessedRecord

	err := r.db.GetContext(ctx, &record, query, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[RecordRepo] Строка с ID %s не найдена", recordID)
			return nil, ErrRecordNotFound
		}
		log.Printf("[RecordRepo] Ошибка при поиске строки ID %s: %v", recordID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение строки: %w", err)
	}

	return &record, nil
}

// ListByFileID возвращает страницу строк файла в порядке row_index.
// Возрастание row_index восстанавливает исходный порядок строк файла.
func (r *postgresProcessedRecordRepository) ListByFileID(
	ctx context.Context,
	fileID string,
	limit,
	offset int,
) ([]models.ProcessedRecord, error) {
	query := `SELECT id, file_id, client_id, row_index, data, errors, audit, created_at, updated_at
	          FROM processed_records
	          WHERE file_id=$1
	          ORDER BY row_index ASC
	          LIMIT $2 OFFSET $3`

	records := make([]models.ProcessedRecord, 0, limit)
	err := r.db.SelectContext(ctx, &records, query, fileID, limit, offset)
	if err != nil {
		log.Printf("[RecordRepo] Ошибка при получении строк файла %s: %v", fileID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение строк файла: %w", err)
	}

	log.Printf("[RecordRepo] Получено %d строк файла %s (limit=%d, offset=%d)",
		len(records), fileID, limit, offset)
	return records, nil
}

// CountByFileID возвращает общее число строк файла.
func (r *postgresProcessedRecordRepository) CountByFileID(ctx context.Context, fileID string) (int64, error) {
	query := `SELECT COUNT(*) FROM processed_records WHERE file_id=$1`
	var total int64

	if err := r.db.GetContext(ctx, &total, query, fileID); err != nil {
		log.Printf("[RecordRepo] Ошибка при подсчете строк файла %s: %v", fileID, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на подсчет строк файла: %w", err)
	}

	return total, nil
}

// Save обновляет данные и блок аудита строки.
// История изменений хранится внутри блока аудита и только растет:
// Save всегда записывает блок целиком, записи из него не удаляются.
func (r *postgresProcessedRecordRepository) Save(ctx context.Context, record *models.ProcessedRecord) error {
	query := `UPDATE processed_records SET data=$2, audit=$3, updated_at=NOW() WHERE id=$1`

	res, err := r.db.ExecContext(ctx, query, record.ID, record.Data, record.Audit)
	if err != nil {
		log.Printf("[RecordRepo] Ошибка при сохранении строки ID %s: %v", record.ID, err)
		return fmt.Errorf("ошибка выполнения запроса на сохранение строки: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа обновленных строк: %w", err)
	}
	if affected == 0 {
		log.Printf("[RecordRepo] Строка ID %s не найдена при сохранении", record.ID)
		return ErrRecordNotFound
	}

	log.Printf("[RecordRepo] Строка ID %s сохранена", record.ID)
	return nil
}

// Кастомные ошибки репозитория обработанных строк.
var (
	ErrRecordNotFound = errors.New("обработанная строка не найдена")
	ErrDuplicateRow   = errors.New("строка с таким индексом уже существует для файла")
)
