package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend реализует Backend поверх локальной файловой системы.
// Ключи объектов трактуются как относительные пути внутри baseDir.
type LocalBackend struct {
	baseDir string
}

// Проверка соответствия интерфейсу.
var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend создает бэкенд локального диска.
// Проверяет и создает корневую директорию, если она не существует.
func NewLocalBackend(baseDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", baseDir, err)
	}
	log.Printf("[LocalStorage] Локальное хранилище инициализировано в '%s'", baseDir)
	return &LocalBackend{baseDir: baseDir}, nil
}

// fullPath переводит ключ объекта в абсолютный путь внутри baseDir.
// Ключи с выходом за пределы корня (..) отклоняются.
func (b *LocalBackend) fullPath(objectKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("недопустимый ключ объекта '%s'", objectKey)
	}
	return filepath.Join(b.baseDir, clean), nil
}

// Put записывает данные на диск и возвращает ключ объекта.
// Паттерн: temp файл -> запись -> fsync -> atomic rename, поэтому повторная
// запись по тому же ключу атомарно заменяет содержимое.
func (b *LocalBackend) Put(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	_ int64,
	_ string,
) (string, error) {
	fullPath, err := b.fullPath(objectKey)
	if err != nil {
		return "", err
	}

	// Создаем директорию под файл
	if err = os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории для '%s': %w", objectKey, err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err = io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия временного файла: %w", err)
	}

	if err = os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка переименования временного файла: %w", err)
	}

	log.Printf("[LocalStorage] Файл '%s' записан", objectKey)
	return objectKey, nil
}

// Get открывает файл на чтение.
// Возвращает ErrObjectNotFound, если файла нет.
func (b *LocalBackend) Get(_ context.Context, objectKey string) (io.ReadCloser, error) {
	fullPath, err := b.fullPath(objectKey)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[LocalStorage] Файл '%s' не найден", objectKey)
			return nil, ErrObjectNotFound
		}
		log.Printf("[LocalStorage] Ошибка открытия файла '%s': %v", objectKey, err)
		return nil, fmt.Errorf("ошибка чтения файла из локального хранилища: %w", err)
	}

	return f, nil
}

// Delete удаляет файл с диска.
// Удаление несуществующего ключа не является ошибкой.
func (b *LocalBackend) Delete(_ context.Context, objectKey string) error {
	fullPath, err := b.fullPath(objectKey)
	if err != nil {
		return err
	}

	if err = os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Printf("[LocalStorage] Ошибка удаления файла '%s': %v", objectKey, err)
		return fmt.Errorf("ошибка удаления файла из локального хранилища: %w", err)
	}

	log.Printf("[LocalStorage] Файл '%s' удален", objectKey)
	return nil
}
