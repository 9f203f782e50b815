package storage

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware пишет в лог операции, меняющие или читающие объекты.
// Exists, GetURL и JoinPath передаются без логирования.
type LoggingMiddleware struct {
	Storage
	logger *logrus.Logger
}

// NewLoggingMiddleware оборачивает хранилище логированием
func NewLoggingMiddleware(next Storage, logger *logrus.Logger) Storage {
	return &LoggingMiddleware{Storage: next, logger: logger}
}

func (m *LoggingMiddleware) observe(operation, key string, start time.Time, err error) {
	entry := m.logger.WithFields(logrus.Fields{
		"operation": operation,
		"key":       key,
		"duration":  time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Error("Ошибка операции с хранилищем")
		return
	}
	entry.Debug("Операция с хранилищем выполнена")
}

func (m *LoggingMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	start := time.Now()
	err := m.Storage.Save(ctx, key, reader)
	m.observe("save", key, start, err)
	return err
}

func (m *LoggingMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := m.Storage.Get(ctx, key)
	m.observe("get", key, start, err)
	return reader, err
}

func (m *LoggingMiddleware) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := m.Storage.Delete(ctx, key)
	m.observe("delete", key, start, err)
	return err
}

func (m *LoggingMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	start := time.Now()
	files, err := m.Storage.List(ctx, prefix)
	m.observe("list", prefix, start, err)
	return files, err
}

// ValidationMiddleware отклоняет некорректные ключи до обращения к хранилищу.
// List и JoinPath не принимают ключ и передаются как есть.
type ValidationMiddleware struct {
	Storage
}

// NewValidationMiddleware оборачивает хранилище проверкой ключей
func NewValidationMiddleware(next Storage) Storage {
	return &ValidationMiddleware{Storage: next}
}

func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return m.Storage.Save(ctx, key, reader)
}

func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return m.Storage.Get(ctx, key)
}

func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return m.Storage.Delete(ctx, key)
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	return m.Storage.Exists(ctx, key)
}

func (m *ValidationMiddleware) GetURL(ctx context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return m.Storage.GetURL(ctx, key)
}
