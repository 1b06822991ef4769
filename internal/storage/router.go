package storage

import (
	"fmt"
	"log"
)

// Router хранит отображение идентификатора бэкенда на экземпляр Backend.
// Реестр заполняется один раз при старте и дальше только читается,
// поэтому безопасен для конкурентного использования без блокировок.
type Router struct {
	backends map[string]Backend
}

// NewRouter создает пустой реестр бэкендов.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register регистрирует бэкенд под указанным идентификатором.
// Повторная регистрация того же идентификатора заменяет бэкенд.
func (r *Router) Register(storageType string, backend Backend) {
	r.backends[storageType] = backend
	log.Printf("[StorageRouter] Зарегистрирован бэкенд хранилища '%s'", storageType)
}

// Resolve возвращает бэкенд по идентификатору.
// Для незарегистрированного идентификатора возвращает ErrUnknownBackend:
// проверка выполняется при загрузке до чтения байтов файла, чтобы неверный
// идентификатор не приводил к частичной записи.
func (r *Router) Resolve(storageType string) (Backend, error) {
	backend, ok := r.backends[storageType]
	if !ok {
		log.Printf("[StorageRouter] Запрошен незарегистрированный бэкенд '%s'", storageType)
		return nil, fmt.Errorf("бэкенд '%s': %w", storageType, ErrUnknownBackend)
	}
	return backend, nil
}
