package repository

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/maynagashev/datakeeper/internal/models"
)

// AuditLogFilter задает необязательные фильтры выборки журнала API-действий.
// Пустое значение поля означает отсутствие фильтра.
type AuditLogFilter struct {
	UserID       string
	ClientID     string
	ResourceType string
	ResourceID   string
}

// AuditLogRepository определяет методы для работы с журналом API-действий.
type AuditLogRepository interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter, limit, offset int) ([]models.AuditLog, error)
	Count(ctx context.Context, filter AuditLogFilter) (int64, error)
}

// postgresAuditLogRepository реализует AuditLogRepository для PostgreSQL.
type postgresAuditLogRepository struct {
	db *sqlx.DB
}

// NewPostgresAuditLogRepository создает новый экземпляр репозитория журнала.
func NewPostgresAuditLogRepository(db *sqlx.DB) AuditLogRepository {
	return &postgresAuditLogRepository{db: db}
}

// Insert добавляет запись в журнал API-действий.
func (r *postgresAuditLogRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	query := `INSERT INTO audit_logs (action, user_id, client_id, resource_type, resource_id, details, environment, error)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		entry.Action, entry.UserID, entry.ClientID, entry.ResourceType,
		entry.ResourceID, entry.Details, entry.Environment, entry.Error,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		log.Printf("[AuditRepo] Ошибка записи действия '%s': %v", entry.Action, err)
		return fmt.Errorf("ошибка выполнения запроса на запись действия: %w", err)
	}

	return nil
}

// buildFilter собирает WHERE-часть запроса по заполненным полям фильтра.
func buildFilter(filter AuditLogFilter) (string, []interface{}) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("user_id", filter.UserID)
	add("client_id", filter.ClientID)
	add("resource_type", filter.ResourceType)
	add("resource_id", filter.ResourceID)

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List возвращает страницу журнала, новые записи первыми.
func (r *postgresAuditLogRepository) List(
	ctx context.Context,
	filter AuditLogFilter,
	limit,
	offset int,
) ([]models.AuditLog, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf(`SELECT id, action, user_id, client_id, resource_type, resource_id,
	                             details, environment, error, created_at
	                      FROM audit_logs%s
	                      ORDER BY created_at DESC
	                      LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	entries := make([]models.AuditLog, 0, limit)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		log.Printf("[AuditRepo] Ошибка при получении журнала: %v", err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение журнала: %w", err)
	}

	return entries, nil
}

// Count возвращает общее число записей журнала под фильтром.
func (r *postgresAuditLogRepository) Count(ctx context.Context, filter AuditLogFilter) (int64, error) {
	where, args := buildFilter(filter)
	query := "SELECT COUNT(*) FROM audit_logs" + where

	var total int64
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		log.Printf("[AuditRepo] Ошибка при подсчете записей журнала: %v", err)
		return 0, fmt.Errorf("ошибка выполнения запроса на подсчет записей журнала: %w", err)
	}

	return total, nil
}
