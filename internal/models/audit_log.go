package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Details — произвольные дополнительные сведения записи журнала API-действий.
type Details map[string]interface{}

// Value сериализует детали для записи в JSONB-колонку.
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan восстанавливает детали из JSONB-колонки.
func (d *Details) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, d)
	case string:
		return json.Unmarshal([]byte(data), d)
	case nil:
		*d = nil
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип для Scan деталей аудита: %T", src)
	}
}

// AuditLog — запись журнала API-действий (upload, download, process, update).
// Это крупнозернистый журнал действий, отдельный от истории изменений полей
// в ProcessedRecord.Audit.
type AuditLog struct {
	ID           int64     `db:"id" json:"id"`
	Action       string    `db:"action" json:"action"`
	UserID       string    `db:"user_id" json:"user_id"`
	ClientID     string    `db:"client_id" json:"client_id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details      Details   `db:"details" json:"details,omitempty"`
	Environment  string    `db:"environment" json:"environment"`
	Error        *string   `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
