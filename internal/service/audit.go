package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sqlgate/internal/infrastructure/xlsx"
	"sqlgate/internal/models"
	"sqlgate/internal/storage"
	"sqlgate/internal/usecase/repository"
)

const (
	// Лимиты пагинации
	defaultPageSize = 20
	maxPageSize     = 100

	// Максимум записей в одной выгрузке
	maxExportRecords = 10000

	exportPrefix = "audit"
)

var (
	// ErrRecordNotFound возвращается, когда записи аудита с указанным ID нет
	ErrRecordNotFound = errors.New("audit record not found")
	// ErrExportNotFound возвращается, когда выгрузки с указанным именем нет
	ErrExportNotFound = errors.New("audit export not found")
	// ErrInvalidExportName возвращается для имени, выходящего за каталог выгрузок
	ErrInvalidExportName = errors.New("invalid export name")
)

// AuditRepository интерфейс для работы с базой данных аудита
type AuditRepository interface {
	Create(ctx context.Context, record *models.AuditRecord) error
	GetByID(ctx context.Context, id uint) (*models.AuditRecord, error)
	List(ctx context.Context, params ListAuditParams) ([]models.AuditRecord, int64, error)
}

// ListAuditParams параметры для получения списка записей аудита
type ListAuditParams struct {
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
	Role      string     `json:"role,omitempty"`
	Decision  string     `json:"decision,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// AuditList результат получения списка записей с пагинацией
type AuditList struct {
	Records    []models.AuditRecord `json:"records"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}

// ExportResult описывает сохраненную выгрузку
type ExportResult struct {
	Key     string `json:"key"`
	URL     string `json:"url"`
	Records int    `json:"records"`
}

// AuditService ведет журнал аудита и выгружает его в хранилище
type AuditService struct {
	repository AuditRepository
	storage    storage.Storage
	logger     *logrus.Logger
	now        func() time.Time
}

// NewAuditService создает сервис аудита
func NewAuditService(repository AuditRepository, storage storage.Storage, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repository: repository,
		storage:    storage,
		logger:     logger,
		now:        time.Now,
	}
}

// NewAuditServiceFromDB создает сервис аудита поверх gorm
func NewAuditServiceFromDB(db *gorm.DB, storage storage.Storage, logger *logrus.Logger) *AuditService {
	return NewAuditService(NewGormAuditRepository(db), storage, logger)
}

// WithClock подменяет часы (для тестов)
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Record сохраняет запись аудита
func (s *AuditService) Record(ctx context.Context, entry repository.AuditEntry) error {
	record := toRecord(entry)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	if err := s.repository.Create(ctx, record); err != nil {
		return fmt.Errorf("ошибка сохранения записи аудита: %w", err)
	}
	return nil
}

// Get получает запись аудита по ID
func (s *AuditService) Get(ctx context.Context, id uint) (*models.AuditRecord, error) {
	record, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}
		s.logger.WithError(err).WithField("audit_id", id).Error("Ошибка получения записи аудита")
		return nil, fmt.Errorf("ошибка получения записи аудита: %w", err)
	}
	return record, nil
}

// List получает список записей аудита с пагинацией
func (s *AuditService) List(ctx context.Context, params ListAuditParams) (*AuditList, error) {
	// Валидация параметров пагинации
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	records, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка записей аудита")
		return nil, fmt.Errorf("ошибка получения списка записей аудита: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &AuditList{
		Records:    records,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// Export выгружает отфильтрованные записи в xlsx и сохраняет в хранилище
// под ключом audit/<timestamp>.xlsx. Пагинация params игнорируется.
func (s *AuditService) Export(ctx context.Context, params ListAuditParams) (*ExportResult, error) {
	params.Page = 1
	params.PageSize = maxExportRecords

	records, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения записей для выгрузки")
		return nil, fmt.Errorf("ошибка получения записей для выгрузки: %w", err)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"records": len(records),
		"total":   total,
	})
	if total > int64(len(records)) {
		logger.Warn("Выгрузка аудита усечена")
	}

	var buffer bytes.Buffer
	if err := xlsx.Write(&buffer, auditSheet(records)); err != nil {
		logger.WithError(err).Error("Ошибка генерации Excel файла")
		return nil, fmt.Errorf("ошибка генерации выгрузки: %w", err)
	}

	key := s.storage.JoinPath(exportPrefix, s.now().UTC().Format("20060102_150405.000000000")+".xlsx")
	if err := s.storage.Save(ctx, key, &buffer); err != nil {
		return nil, fmt.Errorf("ошибка сохранения выгрузки: %w", err)
	}

	url, err := s.storage.GetURL(ctx, key)
	if err != nil {
		// Ключ достаточен для повторного получения файла
		logger.WithError(err).Warn("Ошибка получения ссылки на выгрузку")
	}

	logger.WithField("file_key", key).Info("Выгрузка аудита сохранена")
	return &ExportResult{Key: key, URL: url, Records: len(records)}, nil
}

// Exports возвращает список сохраненных выгрузок
func (s *AuditService) Exports(ctx context.Context) ([]storage.FileInfo, error) {
	files, err := s.storage.List(ctx, exportPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка выгрузок: %w", err)
	}
	return files, nil
}

// OpenExport открывает сохраненную выгрузку по имени файла
func (s *AuditService) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := s.exportKey(ctx, name)
	if err != nil {
		return nil, err
	}

	reader, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExportNotFound, name)
		}
		return nil, fmt.Errorf("ошибка чтения выгрузки: %w", err)
	}
	return reader, nil
}

// DeleteExport удаляет сохраненную выгрузку по имени файла
func (s *AuditService) DeleteExport(ctx context.Context, name string) error {
	key, err := s.exportKey(ctx, name)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("ошибка удаления выгрузки: %w", err)
	}
	s.logger.WithField("file_key", key).Info("Выгрузка аудита удалена")
	return nil
}

// exportKey проверяет имя и наличие выгрузки и возвращает ее ключ
func (s *AuditService) exportKey(ctx context.Context, name string) (string, error) {
	if name == "" || name == "." || name == ".." || path.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidExportName, name)
	}

	key := s.storage.JoinPath(exportPrefix, name)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("ошибка проверки выгрузки: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrExportNotFound, name)
	}
	return key, nil
}

var auditHeaders = []string{
	"ID", "Время", "Сессия", "Роль", "Действие", "Вопрос", "Сгенерированный SQL",
	"Выполненный SQL", "Тип", "Решение", "Причина", "Подтверждение", "Статус подтверждения",
	"Результат", "Затронуто строк", "Строк в ответе", "Ошибка", "Длительность, мс",
}

func auditSheet(records []models.AuditRecord) xlsx.Sheet {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.SessionID, r.Role, r.Action, r.Question,
			r.GeneratedSQL, r.ExecutedSQL, r.Kind, r.Decision, r.Reason, r.ConfirmationID,
			r.Confirmation, r.Outcome, r.RowsAffected, r.RowCount, r.Error, r.DurationMS,
		})
	}
	return xlsx.Sheet{Name: "Audit", Headers: auditHeaders, Rows: rows}
}

func toRecord(e repository.AuditEntry) *models.AuditRecord {
	record := &models.AuditRecord{
		CreatedAt:      e.At.UTC(),
		SessionID:      e.SessionID,
		Role:           e.Role,
		Action:         e.Action,
		Question:       e.Question,
		GeneratedSQL:   e.GeneratedSQL,
		ExecutedSQL:    e.ExecutedSQL,
		Kind:           e.Kind,
		Decision:       e.Decision,
		Reason:         e.Reason,
		ConfirmationID: e.ConfirmationID,
		Confirmation:   e.Confirmation,
		Outcome:        e.Outcome,
		RowsAffected:   e.RowsAffected,
		RowCount:       e.RowCount,
		Error:          e.Error,
		DurationMS:     e.Duration.Milliseconds(),
	}
	if e.Rule != "" {
		record.Details = models.JSON{"rule": e.Rule}
	}
	return record
}

// GormAuditRepository реализация репозитория аудита для GORM
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository создает новый GORM репозиторий аудита
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Create создает запись аудита
func (r *GormAuditRepository) Create(ctx context.Context, record *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetByID получает запись по ID
func (r *GormAuditRepository) GetByID(ctx context.Context, id uint) (*models.AuditRecord, error) {
	var record models.AuditRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// List получает записи с фильтрацией и пагинацией, новые первыми
func (r *GormAuditRepository) List(ctx context.Context, params ListAuditParams) ([]models.AuditRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditRecord{})

	// Фильтрация
	if params.Role != "" {
		query = query.Where("role = ?", params.Role)
	}
	if params.Decision != "" {
		query = query.Where("decision = ?", params.Decision)
	}
	if params.SessionID != "" {
		query = query.Where("session_id = ?", params.SessionID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", params.From.UTC())
	}
	if params.To != nil {
		query = query.Where("created_at < ?", params.To.UTC())
	}

	// Подсчет общего количества
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Пагинация
	offset := (params.Page - 1) * params.PageSize
	var records []models.AuditRecord
	err := query.Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(params.PageSize).
		Find(&records).Error

	return records, total, err
}
