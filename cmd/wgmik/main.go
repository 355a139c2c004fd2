// Точка входа WGMik — учёт трафика и управление WireGuard peer'ами
// на роутерах MikroTik. Загружает конфигурацию, применяет миграции,
// подключается к PostgreSQL, создаёт сервисный слой (опрос, политика,
// планировщик, настройки), запускает topologymetrics и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"github.com/arturkryukov/wgmik/internal/api/handlers"
	"github.com/arturkryukov/wgmik/internal/api/middleware"
	"github.com/arturkryukov/wgmik/internal/config"
	"github.com/arturkryukov/wgmik/internal/database"
	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
	"github.com/arturkryukov/wgmik/internal/secret"
	"github.com/arturkryukov/wgmik/internal/server"
	"github.com/arturkryukov/wgmik/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("WGMik запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("WM_DEPHEALTH_GROUP") == "" {
		logger.Warn("WM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозитории
	store := repository.NewStore(pool)

	// 6. Шифрование паролей роутеров
	box, err := secret.New(cfg.SecretKey)
	if err != nil {
		logger.Error("Ошибка инициализации шифрования", slog.String("error", err.Error()))
		os.Exit(1)
	}
	factory := routeros.NewClientFactory(box, cfg.RouterTimeout)

	// 7. Начальный администратор (только при пустой таблице users)
	if err := bootstrapAdmin(ctx, store, cfg, logger); err != nil {
		logger.Error("Ошибка создания начального администратора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Сервисный слой
	settingsSvc := service.NewSettingsService(store, service.RuntimeSettings{
		PollInterval:    cfg.PollInterval,
		OnlineThreshold: cfg.OnlineThreshold,
		MonthlyResetDay: cfg.MonthlyResetDay,
		Timezone:        cfg.Timezone,
	}, logger)
	if err := settingsSvc.Hydrate(ctx); err != nil {
		logger.Error("Ошибка загрузки настроек", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy := service.NewPolicyEngine(logger)
	poller := service.NewPoller(store, factory, policy, logger)

	scheduler := service.NewScheduler(poller, settingsSvc.Current().PollInterval, logger)
	settingsSvc.BindScheduler(scheduler)
	scheduler.Start(ctx)

	// 8.1 topologymetrics — мониторинг зависимостей (PostgreSQL)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"wgmik",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. JWT middleware и API handlers
	jwtAuth := middleware.NewJWTAuth(cfg.SecretKey, cfg.TokenTTL, logger)
	apiHandler := handlers.NewHandler(store, factory, box, settingsSvc, jwtAuth, logger)
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	scheduler.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("WGMik остановлен")
}

// bootstrapAdmin создаёт начального администратора при пустой таблице users.
// Без WM_ADMIN_PASSWORD сервис стартует, но войти будет некому.
func bootstrapAdmin(ctx context.Context, store repository.Store, cfg *config.Config, logger *slog.Logger) error {
	count, err := store.Users().Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if cfg.AdminPassword == "" {
		logger.Warn("Таблица users пуста, а WM_ADMIN_PASSWORD не задан — вход в API невозможен")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &model.User{
		ID:           uuid.New(),
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}
	if err := store.Users().Create(ctx, user); err != nil {
		return err
	}

	logger.Info("Создан начальный администратор", slog.String("username", user.Username))
	return nil
}
