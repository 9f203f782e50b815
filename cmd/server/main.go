package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"sqlgate/internal/config"
	"sqlgate/internal/di"
	"sqlgate/internal/server"
)

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 30 * time.Second
)

func main() {
	var logger *logrus.Logger

	app := fx.New(
		di.Module,
		fx.Invoke(serveHTTP),
		fx.Populate(&logger),
		fx.StartTimeout(startTimeout),
		fx.StopTimeout(stopTimeout),
	)
	if err := app.Err(); err != nil {
		logrus.WithError(err).Fatal("Ошибка сборки зависимостей")
	}

	os.Exit(run(app, logger))
}

// serveHTTP привязывает HTTP сервер к жизненному циклу fx
func serveHTTP(lc fx.Lifecycle, srv server.HTTPServer, cfg config.Config, logger *logrus.Logger) {
	lc.Append(fx.StartStopHook(
		func() {
			logger.WithFields(logrus.Fields{
				"address": cfg.Server.Address,
				"config":  cfg.String(),
			}).Info("Запуск HTTP сервера")

			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Error("HTTP сервер остановлен с ошибкой")
				}
			}()
		},
		func(ctx context.Context) error {
			logger.Info("Остановка HTTP сервера")
			return srv.Shutdown(ctx)
		},
	))
}

// run запускает приложение и ждет SIGINT или SIGTERM; возвращает код выхода
func run(app *fx.App, logger *logrus.Logger) int {
	signals, release := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer release()

	startCtx, cancelStart := context.WithTimeout(signals, startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.WithError(err).Error("Не удалось запустить sqlgate")
		return 1
	}

	<-signals.Done()
	logger.Info("Получен сигнал остановки")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Ошибка при остановке sqlgate")
		return 1
	}

	logger.Info("sqlgate остановлен")
	return 0
}
