package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const (
	// Порт по умолчанию для HTTP.
	defaultServerPort = "8080"

	// Переменные окружения.
	envServerPort  = "SERVER_PORT"
	envTLSCertFile = "TLS_CERT_FILE"
	envTLSKeyFile  = "TLS_KEY_FILE"
	envDatabaseDSN = "DATABASE_DSN"
	envJWTSecret   = "JWT_SECRET" //nolint:gosec // Имя переменной окружения, не секрет
)

// config хранит конфигурацию сервера.
type config struct {
	Port        string
	CertFile    string
	KeyFile     string
	DatabaseDSN string
	JWTSecret   string
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
// TLS необязателен: без сертификата сервер стартует по HTTP.
func parseFlags() (*config, error) {
	cfg := &config{}

	// Определяем флаги
	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт для запуска сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s, опционально)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s, опционально)", envTLSKeyFile))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", envDatabaseDSN))

	// Парсим флаги
	flag.Parse()

	// Применяем переменные окружения, если флаги не заданы
	if cfg.Port == "" {
		if value, ok := os.LookupEnv(envServerPort); ok {
			cfg.Port = value
		} else {
			cfg.Port = defaultServerPort
		}
	}
	if cfg.CertFile == "" {
		if value, ok := os.LookupEnv(envTLSCertFile); ok {
			cfg.CertFile = value
		}
	}
	if cfg.KeyFile == "" {
		if value, ok := os.LookupEnv(envTLSKeyFile); ok {
			cfg.KeyFile = value
		}
	}
	if cfg.DatabaseDSN == "" {
		if value, ok := os.LookupEnv(envDatabaseDSN); ok {
			cfg.DatabaseDSN = value
		}
	}

	// Секрет JWT задается только окружением
	cfg.JWTSecret = os.Getenv(envJWTSecret)

	// Проверяем обязательные параметры
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("не указан секретный ключ JWT (" + envJWTSecret + ")")
	}
	// Сертификат и ключ либо оба заданы, либо оба отсутствуют
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("для TLS нужны оба параметра: " + envTLSCertFile + " и " + envTLSKeyFile)
	}

	return cfg, nil
}
