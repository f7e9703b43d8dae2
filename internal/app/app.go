package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/chatshop/chatshop/config"
	"github.com/chatshop/chatshop/internal/bridge"
	"github.com/chatshop/chatshop/internal/checkout"
	"github.com/chatshop/chatshop/internal/deposit"
	"github.com/chatshop/chatshop/internal/discount"
	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/internal/notify"
	"github.com/chatshop/chatshop/internal/store"
	"github.com/chatshop/chatshop/pkg/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

// Application owns the process-wide resources: configuration, database,
// scheduler, settings and the wired storefront components.
type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	settings  *SettingsManager
	bus       EventBus.Bus

	engine     *store.Engine
	sweeper    *store.Sweeper
	evaluator  *discount.Evaluator
	cleaner    *checkout.MediaCleaner
	checkout   *checkout.Orchestrator
	oracle     *deposit.Oracle
	depositSvc *deposit.Service
	bridge     *bridge.Bridge
}

var (
	_ DBProvider       = (*Application)(nil)
	_ ConfigProvider   = (*Application)(nil)
	_ SettingsProvider = (*Application)(nil)
	_ AppContext       = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	a.initLogger(cfg)

	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	a.settings = NewSettingsManager(a.gormDB)
	a.checkSettings()

	a.bus = EventBus.New()
	notify.SubscribeLogger(a.bus)
	notifier := notify.NewBusNotifier(a.bus)

	a.engine = store.NewEngine(a.gormDB)
	a.sweeper = store.NewSweeper(a.gormDB)
	a.evaluator = discount.NewEvaluator(a.gormDB)

	a.cleaner, err = checkout.NewMediaCleaner(int(a.settings.GetInt64("shop", "media_workers")))
	if err != nil {
		zap.S().Errorf("media cleaner init failed: %v", err)
	}
	a.checkout = checkout.NewOrchestrator(a.gormDB, a.engine, a.evaluator, notifier, a.cleaner)

	providerClient := deposit.NewClient(
		cfg.Payment.ApiUrl,
		cfg.Payment.ApiKey,
		time.Duration(cfg.Payment.Timeout)*time.Second,
	)
	a.oracle = deposit.NewOracle(providerClient,
		time.Duration(a.settings.GetInt64("payment", "rate_ttl_seconds"))*time.Second)
	a.depositSvc = deposit.NewService(a.gormDB, a.oracle, providerClient, notifier,
		cfg.Payment.CallbackUrl,
		func() float64 { return a.settings.GetFloat64("payment", "fee_adjustment") })

	a.bridge = bridge.New(64)

	a.initJob()
}

func (a *Application) initLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}

func (a *Application) MigrateDB() error {
	return a.gormDB.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Settings() *SettingsManager {
	return a.settings
}

func (a *Application) Bus() EventBus.Bus {
	return a.bus
}

func (a *Application) Engine() *store.Engine {
	return a.engine
}

func (a *Application) Sweeper() *store.Sweeper {
	return a.sweeper
}

func (a *Application) Evaluator() *discount.Evaluator {
	return a.evaluator
}

func (a *Application) Checkout() *checkout.Orchestrator {
	return a.checkout
}

func (a *Application) Deposit() *deposit.Service {
	return a.depositSvc
}

func (a *Application) Bridge() *bridge.Bridge {
	return a.bridge
}

func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.settings.GetString(category, key)
}

func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.settings.GetInt64(category, key)
}

func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.settings.GetBool(category, key)
}

// StartBackgroundJobs starts the bridge worker and the cron scheduler.
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	go a.bridge.Run(ctx)
	a.sched.Start()
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Release()
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
