package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/maynagashev/datakeeper/internal/repository"
	"github.com/maynagashev/datakeeper/internal/services"
)

// AuditHandler обрабатывает HTTP-запросы к журналу API-действий.
type AuditHandler struct {
	auditService services.AuditService
}

// NewAuditHandler создает новый экземпляр AuditHandler.
func NewAuditHandler(as services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: as}
}

// List обрабатывает GET запрос на постраничную выборку журнала.
// Журнал виден только в пределах своего клиента, фильтры user_id,
// resource_type и resource_id необязательны.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	_, clientID, ok := identity(r)
	if !ok {
		log.Printf("[AuditHandler:List] Не удалось получить идентификаторы из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	filter := repository.AuditLogFilter{
		// ClientID всегда ограничен клиентом вызывающего
		ClientID:     clientID,
		UserID:       query.Get("user_id"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
	}

	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	pageResult, err := h.auditService.List(r.Context(), filter, page, limit)
	if err != nil {
		log.Printf("[AuditHandler:List] Ошибка выборки журнала: %v", err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, pageResult)
}
