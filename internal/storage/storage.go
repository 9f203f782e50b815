// Package storage хранит выгрузки журнала аудита в локальной файловой системе
// или в S3-совместимом хранилище.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sqlgate/internal/config"
)

const (
	// Типы хранилищ
	TypeLocal = "local"
	TypeS3    = "s3"

	// Срок действия ссылки на выгрузку
	DefaultURLExpiration = time.Hour

	maxKeyLength = 1024
)

// ErrNotFound возвращается, когда объекта с указанным ключом нет.
var ErrNotFound = errors.New("object not found")

// Storage интерфейс для работы с хранилищем выгрузок
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)
	// GetURL возвращает ссылку на объект, для S3 подписанную на DefaultURLExpiration.
	GetURL(ctx context.Context, key string) (string, error)
	JoinPath(elem ...string) string
}

// FileInfo информация об объекте
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ValidateKey проверяет ключ объекта
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("ключ файла не может быть пустым")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("ключ файла слишком длинный: %d символов (максимум %d)", len(key), maxKeyLength)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("ключ файла не может содержать '..'")
		}
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("ключ файла должен быть относительным")
	}
	return nil
}

// NewFromConfig создает хранилище по разделу storage и оборачивает его в middleware
func NewFromConfig(cfg config.Storage, logger *logrus.Logger) (Storage, error) {
	var (
		s   Storage
		err error
	)

	switch cfg.Type {
	case TypeLocal:
		s, err = NewLocalStorage(cfg.BasePath)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}
	case TypeS3:
		s, err = NewS3Storage(context.Background(), cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}
	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", cfg.Type)
	}

	s = NewValidationMiddleware(s)
	if logger != nil {
		s = NewLoggingMiddleware(s, logger)
	}
	return s, nil
}
