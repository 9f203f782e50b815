// Package di собирает граф зависимостей приложения на fx.
package di

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"sqlgate/internal/config"
	"sqlgate/internal/database"
	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/domain/query"
	sqlinfra "sqlgate/internal/infrastructure/sql"
	"sqlgate/internal/infrastructure/llm"
	"sqlgate/internal/server"
	"sqlgate/internal/service"
	"sqlgate/internal/storage"
	"sqlgate/internal/usecase"
	"sqlgate/internal/usecase/repository"
)

// Core предоставляет конфигурацию, логгер, хранилища и сервис управления запросами.
var Core = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		newGovernedDB,
		newSchemaProvider,
		newLLMClient,
		llm.NewSQLGenerator,
		llm.NewAnswerGenerator,
		newAuditDB,
		newAuditService,
		newPolicyEngine,
		newClassifier,
		newSanitizer,
		newGate,
		newMemory,
		newFormatter,
		newGovernanceService,
	),
)

// Module добавляет к Core HTTP-сервер.
var Module = fx.Options(
	Core,
	fx.Provide(newServer),
)

// NewLogger создает и настраивает логгер на основе конфигурации
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}

func newGovernedDB(lc fx.Lifecycle, cfg config.Config, logger *logrus.Logger) (*sqlinfra.DB, error) {
	db, err := sqlinfra.Open(context.Background(), cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Закрытие соединения с хранилищем")
			return db.Close()
		},
	})
	return db, nil
}

func newSchemaProvider(cfg config.Config, db *sqlinfra.DB) (repository.SchemaProvider, error) {
	if cfg.Generation.SchemaPath != "" {
		return sqlinfra.LoadStaticSchema(cfg.Generation.SchemaPath)
	}
	return &sqlinfra.SchemaRepository{DB: db.DB, Driver: db.Driver, Notes: cfg.Generation.SchemaNotes}, nil
}

func newLLMClient(cfg config.Config) (*llm.Client, error) {
	return llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		SQLModel:    cfg.LLM.SQLModel,
		AnswerModel: cfg.LLM.AnswerModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  2,
	})
}

// newAuditDB возвращает nil, если журнал аудита отключен.
func newAuditDB(lc fx.Lifecycle, cfg config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	if !cfg.Audit.Enabled {
		logger.Warn("Журнал аудита отключен")
		return nil, nil
	}

	db, err := database.NewDatabase(database.Config{
		Driver: cfg.Audit.Driver,
		DSN:    cfg.Audit.DSN,
		Debug:  cfg.Server.Debug,
	})
	if err != nil {
		return nil, err
	}
	// sqlite-журнал создается на месте; postgres мигрируется через cmd/migrate
	if cfg.Audit.Driver == "sqlite" {
		if err := database.AutoMigrate(db, logger); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newAuditService(cfg config.Config, db *gorm.DB, logger *logrus.Logger) (*service.AuditService, error) {
	if db == nil {
		return nil, nil
	}
	store, err := storage.NewFromConfig(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return service.NewAuditServiceFromDB(db, store, logger), nil
}

func newPolicyEngine(cfg config.Config) (*policy.Engine, error) {
	rules, err := policy.CompileRules(cfg.Policy.Rules)
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(rules), nil
}

func newClassifier(cfg config.Config) *query.Classifier {
	return query.NewClassifier(query.NewDenyList(cfg.Policy.MetadataDenyList))
}

func newSanitizer(cfg config.Config) query.Sanitizer {
	return query.NewSanitizer(cfg.Policy.DefaultRowLimit, cfg.Policy.MaxRowLimit)
}

func newGate(cfg config.Config) *confirmation.Gate {
	return confirmation.NewGate(cfg.Policy.ConfirmationTimeout)
}

func newMemory(cfg config.Config) *memory.Store {
	return memory.NewStore(cfg.Memory.WindowSize).WithIdleTimeout(cfg.Memory.IdleTimeout)
}

func newFormatter(answers *llm.AnswerGenerator, logger *logrus.Logger) *usecase.Formatter {
	return usecase.NewFormatter(answers, logger)
}

type governanceParams struct {
	fx.In

	Config     config.Config
	Logger     *logrus.Logger
	Classifier *query.Classifier
	Policy     *policy.Engine
	Sanitizer  query.Sanitizer
	Gate       *confirmation.Gate
	Memory     *memory.Store
	Generator  *llm.SQLGenerator
	Executor   *sqlinfra.DB
	Schema     repository.SchemaProvider
	Audit      *service.AuditService
	Formatter  *usecase.Formatter
}

func newGovernanceService(p governanceParams) *usecase.GovernanceService {
	deps := usecase.GovernanceDeps{
		Classifier:       p.Classifier,
		Policy:           p.Policy,
		Sanitizer:        p.Sanitizer,
		Gate:             p.Gate,
		Memory:           p.Memory,
		Generator:        p.Generator,
		Executor:         p.Executor,
		Schema:           p.Schema,
		Formatter:        p.Formatter,
		Logger:           p.Logger,
		ExecutionTimeout: p.Config.Policy.ExecutionTimeout,
	}
	// Типизированный nil в интерфейсе не должен попасть в сервис
	if p.Audit != nil {
		deps.Audit = p.Audit
	}
	return usecase.NewGovernanceService(deps)
}

func newServer(cfg config.Config, governance *usecase.GovernanceService, audit *service.AuditService, logger *logrus.Logger) server.HTTPServer {
	var queries server.AuditQueries
	if audit != nil {
		queries = audit
	}
	return server.NewServer(cfg, governance, queries, logger)
}
