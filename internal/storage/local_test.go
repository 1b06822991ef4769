package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/datakeeper/internal/storage"
)

func TestNewLocalBackend(t *testing.T) {
	t.Run("Создает корневую директорию", func(t *testing.T) {
		baseDir := filepath.Join(t.TempDir(), "uploads")

		backend, err := storage.NewLocalBackend(baseDir)
		require.NoError(t, err)
		require.NotNil(t, backend)

		info, err := os.Stat(baseDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("Существующая директория не является ошибкой", func(t *testing.T) {
		baseDir := t.TempDir()

		backend, err := storage.NewLocalBackend(baseDir)
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})
}

func TestLocalBackend_PutGet(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Записанный файл читается обратно", func(t *testing.T) {
		content := "name,age\nAlice,30\n"
		key := "client-1/1714000000000/data.csv"

		storedKey, err := backend.Put(ctx, key, strings.NewReader(content), int64(len(content)), "text/csv")
		require.NoError(t, err)
		assert.Equal(t, key, storedKey)

		reader, err := backend.Get(ctx, storedKey)
		require.NoError(t, err)
		defer func() { _ = reader.Close() }()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("Повторная запись заменяет содержимое", func(t *testing.T) {
		key := "client-1/1714000000000/again.csv"

		_, err := backend.Put(ctx, key, strings.NewReader("старое"), 0, "text/csv")
		require.NoError(t, err)
		_, err = backend.Put(ctx, key, strings.NewReader("новое"), 0, "text/csv")
		require.NoError(t, err)

		reader, err := backend.Get(ctx, key)
		require.NoError(t, err)
		defer func() { _ = reader.Close() }()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "новое", string(data))
	})

	t.Run("Чтение несуществующего ключа", func(t *testing.T) {
		_, err := backend.Get(ctx, "client-1/нет/такого.csv")
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("Ключ с выходом за пределы корня отклоняется", func(t *testing.T) {
		_, err := backend.Put(ctx, "../escape.csv", strings.NewReader("x"), 1, "text/csv")
		require.Error(t, err)

		_, err = backend.Get(ctx, "../../etc/passwd")
		require.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrObjectNotFound)
	})
}

func TestLocalBackend_Delete(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Удаленный файл больше не читается", func(t *testing.T) {
		key := "client-1/1714000000000/delete-me.csv"
		_, err := backend.Put(ctx, key, strings.NewReader("x"), 1, "text/csv")
		require.NoError(t, err)

		require.NoError(t, backend.Delete(ctx, key))

		_, err = backend.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("Удаление несуществующего ключа идемпотентно", func(t *testing.T) {
		assert.NoError(t, backend.Delete(ctx, "client-1/нет/такого.csv"))
	})
}
