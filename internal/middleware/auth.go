package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Тип для ключа контекста.
type contextKey string

// Ключи для хранения идентификаторов в контексте запроса.
const (
	UserIDKey   contextKey = "userID"
	ClientIDKey contextKey = "clientID"
)

// Структура для пользовательских данных в JWT (claims).
// Токены выпускает внешний сервис аутентификации, здесь они только
// проверяются: user_id — пользователь, client_id — клиент (tenant).
type jwtClaims struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// NewAuthenticator возвращает middleware, проверяющий JWT токен
// аутентификации и помещающий user_id и client_id в контекст запроса.
func NewAuthenticator(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем заголовок Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Println("[AuthMiddleware] Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				log.Printf("[AuthMiddleware] Неверный формат заголовка Authorization: %s", authHeader)
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			tokenString := headerParts[1]

			// Парсим и валидируем токен
			claims := &jwtClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				// Убеждаемся, что метод подписи - HS256
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
				}
				// Возвращаем секретный ключ
				return []byte(secret), nil
			})

			if err != nil {
				log.Printf("[AuthMiddleware] Ошибка парсинга/валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			// Проверяем валидность токена (включая время жизни, issuer и т.д.)
			if !token.Valid {
				log.Println("[AuthMiddleware] Предоставлен невалидный токен (возможно, истек)")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			// Без клиента невозможно проверить принадлежность данных
			if claims.UserID == "" || claims.ClientID == "" {
				log.Println("[AuthMiddleware] В токене отсутствует user_id или client_id")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			// Добавляем идентификаторы в контекст запроса
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, ClientIDKey, claims.ClientID)

			// Логируем успешную аутентификацию
			log.Printf("[AuthMiddleware] Пользователь %s клиента %s успешно аутентифицирован",
				claims.UserID, claims.ClientID)

			// Передаем управление следующему обработчику с обновленным контекстом
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста.
// Возвращает идентификатор и true, если он найден, иначе "" и false.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetClientIDFromContext извлекает идентификатор клиента из контекста.
func GetClientIDFromContext(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(ClientIDKey).(string)
	return clientID, ok
}
