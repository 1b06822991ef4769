// Пакет storage — абстракция над физическими хранилищами байтов файлов.
// Поддерживаются объектное хранилище (MinIO) и локальный диск; выбор
// конкретного бэкенда выполняет Router по строковому идентификатору.
package storage

import (
	"context"
	"errors"
	"io"
)

// Идентификаторы встроенных бэкендов хранилища.
const (
	TypeObject = "object"
	TypeLocal  = "local"
)

// Backend определяет интерфейс для взаимодействия с хранилищем байтов.
// Put может переписать логический путь в канонический ключ и возвращает
// итоговый ключ, по которому файл доступен через Get/Delete.
// Повторный Put по тому же пути заменяет содержимое.
// Delete несуществующего ключа не является ошибкой.
type Backend interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectKey string) error
}

// Кастомные ошибки хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	ErrUnknownBackend = errors.New("неизвестный тип хранилища")
)
