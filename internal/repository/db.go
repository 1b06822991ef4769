package repository

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL, импортируем для регистрации
)

// Параметры пула соединений. Нагрузка в основном пакетная (вставка строк
// при обработке файла), поэтому пул небольшой, а простаивающие соединения
// закрываются быстро.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
	connMaxIdleTime = time.Minute
)

// NewPostgresDB открывает подключение к PostgreSQL и настраивает пул.
// sqlx.Connect выполняет ping, так что невалидный DSN и недоступный хост
// обнаруживаются сразу.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	log.Printf("[Repository:NewPostgresDB] Подключение к PostgreSQL...")

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	log.Printf("[Repository:NewPostgresDB] Подключение к PostgreSQL установлено")
	return db, nil
}
