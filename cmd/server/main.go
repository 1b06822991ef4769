package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL

	"github.com/maynagashev/datakeeper/internal/handlers"
	appmiddleware "github.com/maynagashev/datakeeper/internal/middleware"
	"github.com/maynagashev/datakeeper/internal/repository"
	"github.com/maynagashev/datakeeper/internal/services"
	"github.com/maynagashev/datakeeper/internal/storage"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	// Переменные окружения для MinIO (значения по умолчанию из docker-compose).
	envMinioEndpoint     = "MINIO_ENDPOINT"
	envMinioUser         = "MINIO_USER"
	envMinioPassword     = "MINIO_PASSWORD"
	envMinioBucket       = "MINIO_BUCKET"
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultMinioBucket   = "datakeeper-files"
	minioUseSSL          = false // Для локальной разработки

	// Переменные окружения для локального хранилища и окружения.
	envLocalStorageDir     = "LOCAL_STORAGE_DIR"
	defaultLocalStorageDir = "uploads"
	envEnvironment         = "APP_ENV"
	defaultEnvironment     = "development"
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db           *sqlx.DB
	fileHandler  *handlers.FileHandler
	auditHandler *handlers.AuditHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера DataKeeper...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	// Инициализация зависимостей
	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	// Отложенное закрытие соединения с БД
	defer func() {
		if deps.db != nil {
			if closeErr := deps.db.Close(); closeErr != nil {
				log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
			}
		}
	}()

	// Настройка роутера
	r := setupRouter(cfg.JWTSecret, deps.fileHandler, deps.auditHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	// С сертификатом запускаемся по HTTPS, без него — по HTTP
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		log.Printf("Запуск HTTPS-сервера на порту %s...", cfg.Port)
		err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		log.Printf("Запуск HTTP-сервера на порту %s...", cfg.Port)
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(cfg *config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД
	deps.db, err = repository.NewPostgresDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	log.Println("Соединение с БД успешно установлено.")

	// 2. Реестр бэкендов хранилища: заполняется один раз при старте
	router := storage.NewRouter()

	minioCfg := storage.MinioConfig{
		Endpoint:        getEnv(envMinioEndpoint, defaultMinioEndpoint),
		AccessKeyID:     getEnv(envMinioUser, defaultMinioUser),
		SecretAccessKey: getEnv(envMinioPassword, defaultMinioPassword),
		UseSSL:          minioUseSSL,
		BucketName:      getEnv(envMinioBucket, defaultMinioBucket),
	}
	minioClient, err := storage.NewMinioClient(minioCfg)
	if err != nil {
		// Закрываем соединение с БД перед выходом
		if dbCloseErr := deps.db.Close(); dbCloseErr != nil {
			log.Printf("Ошибка закрытия соединения с БД при ошибке MinIO: %v", dbCloseErr)
		}
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}
	router.Register(storage.TypeObject, minioClient)

	localBackend, err := storage.NewLocalBackend(getEnv(envLocalStorageDir, defaultLocalStorageDir))
	if err != nil {
		if dbCloseErr := deps.db.Close(); dbCloseErr != nil {
			log.Printf("Ошибка закрытия соединения с БД при ошибке локального хранилища: %v", dbCloseErr)
		}
		return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
	}
	router.Register(storage.TypeLocal, localBackend)

	// 3. Создание репозиториев
	fileRepo := repository.NewPostgresFileRepository(deps.db)
	recordRepo := repository.NewPostgresProcessedRecordRepository(deps.db)
	auditRepo := repository.NewPostgresAuditLogRepository(deps.db)

	// 4. Создание сервисов
	fileService := services.NewFileService(fileRepo, recordRepo, router)
	auditService := services.NewAuditService(auditRepo, getEnv(envEnvironment, defaultEnvironment))

	// 5. Создание обработчиков
	deps.fileHandler = handlers.NewFileHandler(fileService, auditService)
	deps.auditHandler = handlers.NewAuditHandler(auditService)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(jwtSecret string, fileHandler *handlers.FileHandler, auditHandler *handlers.AuditHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	// Определяем базовый маршрут /api
	r.Route("/api", func(r chi.Router) {
		// Все маршруты требуют аутентификации
		r.Use(appmiddleware.NewAuthenticator(jwtSecret))

		// Маршруты для работы с файлами
		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", fileHandler.Upload)
			r.Get("/{id}", fileHandler.Download)
			r.Post("/{id}/process", fileHandler.Process)
			r.Get("/{id}/data", fileHandler.ListProcessed)
			r.Patch("/{id}/data/{recordId}", fileHandler.UpdateField)
		})

		// Журнал API-действий
		r.Get("/audit", auditHandler.List)
	})
	return r
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	log.Printf("Переменная окружения '%s' не установлена, используется значение по умолчанию: '%s'", key, fallback)
	return fallback
}
