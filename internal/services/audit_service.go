package services

import (
	"context"
	"fmt"
	"log"

	"github.com/maynagashev/datakeeper/internal/models"
	"github.com/maynagashev/datakeeper/internal/repository"
)

// AuditPage — страница журнала API-действий.
type AuditPage struct {
	Data       []models.AuditLog `json:"data"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"totalPages"`
}

// AuditService определяет интерфейс журнала API-действий.
// Это крупнозернистый журнал (upload, download, process, update), отдельный
// от истории изменений полей в ProcessedRecord.
type AuditService interface {
	// Log записывает действие в режиме fire-and-forget: сбой журнала
	// не влияет на результат самого действия.
	Log(ctx context.Context, action, userID, clientID, resourceType, resourceID, errText string)
	List(ctx context.Context, filter repository.AuditLogFilter, page, limit int) (*AuditPage, error)
}

// Убедимся, что auditService удовлетворяет интерфейсу AuditService.
var _ AuditService = (*auditService)(nil)

type auditService struct {
	repo        repository.AuditLogRepository
	environment string // Имя окружения (dev/stage/prod), пишется в каждую запись
}

// NewAuditService создает новый экземпляр сервиса журнала API-действий.
func NewAuditService(repo repository.AuditLogRepository, environment string) AuditService {
	return &auditService{repo: repo, environment: environment}
}

// Log записывает действие. Ошибка записи только логируется.
func (s *auditService) Log(ctx context.Context, action, userID, clientID, resourceType, resourceID, errText string) {
	entry := &models.AuditLog{
		Action:       action,
		UserID:       userID,
		ClientID:     clientID,
		ResourceType: resourceType,
		Environment:  s.environment,
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if errText != "" {
		entry.Error = &errText
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		log.Printf("[AuditService] Не удалось записать действие '%s' пользователя %s: %v", action, userID, err)
	}
}

// List возвращает страницу журнала, новые записи первыми.
func (s *auditService) List(
	ctx context.Context,
	filter repository.AuditLogFilter,
	page, limit int,
) (*AuditPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	offset := (page - 1) * limit
	entries, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала: %w", err)
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета записей журнала: %w", err)
	}

	return &AuditPage{
		Data:       entries,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}
