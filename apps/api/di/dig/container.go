package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/luxaar/luxaar/apps/api/echo"
	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/progress"
	"github.com/luxaar/luxaar/core/support"
	"github.com/luxaar/luxaar/core/user"
	"github.com/luxaar/luxaar/fs"
	"github.com/luxaar/luxaar/services/ai/gemini"
	"github.com/luxaar/luxaar/services/ai/ollama"
	"github.com/luxaar/luxaar/services/email"
	"github.com/luxaar/luxaar/services/jobs"
	"github.com/luxaar/luxaar/services/logger"
	"github.com/luxaar/luxaar/services/metrics"
	"github.com/luxaar/luxaar/services/pubsub"
	"github.com/luxaar/luxaar/storage/database"
	"github.com/luxaar/luxaar/storage/database/inmem"
	"github.com/luxaar/luxaar/storage/database/sqlx"
	"github.com/luxaar/luxaar/storage/mongodb"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Cleanup collects the closers of opened resources, run in reverse order on shutdown.
type Cleanup struct {
	fns []func() error
}

func (c *Cleanup) Add(fn func() error) { c.fns = append(c.fns, fn) }

func (c *Cleanup) Run(logger core.Logger) {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			logger.Error(fmt.Sprintf("cleanup: %v", err), err)
		}
	}
}

// Store holds the repositories of the configured backends.
type Store struct {
	dig.Out

	UserRepo     user.Repository
	CourseRepo   course.Repository
	EnrollRepo   enrollment.Repository
	ProgressRepo progress.Repository
	NotifRepo    notification.Repository
	SupportRepo  support.Repository
	ChatRepo     aichat.Repository
	SettingsRepo aichat.SettingsRepository
	Tx           core.TxRunner
}

func newConfig() *core.Config {
	return core.Conf
}

func newLogger(conf *core.Config) core.Logger {
	l := logsvc.NewRollbarLogger(os.Stdout, conf)
	l.Enable(!conf.Debug && conf.RollbarToken != "")
	return l
}

func newDBLogger(conf *core.Config) core.Logger {
	l := logsvc.NewRollbarLogger(os.Stderr, conf)
	l.Enable(!conf.Debug && conf.RollbarToken != "")
	return l
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	return validate, translator
}

// newStore opens PostgreSQL when a database server is configured and the in-memory store otherwise.
// Chat sessions go to MongoDB when MongoURI is set.
func newStore(conf *core.Config, dbLogger DBLoggerParam, cleanup *Cleanup) Store {
	var store Store
	var chatRepo interface {
		aichat.Repository
		aichat.SettingsRepository
	}

	if conf.Database.Enabled() {
		setUp := func() (*sqlx.DB, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}
			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}
			if err = database.Migrate(db.DB, "up"); err != nil {
				return nil, err
			}
			return db, nil
		}
		db, err := setUp()
		if err != nil {
			dbLogger.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		cleanup.Add(db.Close)
		dbLogger.Logger.Info("connected to " + conf.Database.Address())

		store = Store{
			UserRepo:     sqlxrepos.NewUserRepository(db),
			CourseRepo:   sqlxrepos.NewCourseRepository(db),
			EnrollRepo:   sqlxrepos.NewEnrollmentRepository(db),
			ProgressRepo: sqlxrepos.NewProgressRepository(db),
			NotifRepo:    sqlxrepos.NewNotificationRepository(db),
			SupportRepo:  sqlxrepos.NewSupportRepository(db),
			Tx:           database.NewTxRunner(db),
		}
		chatRepo = sqlxrepos.NewChatRepository(db)
	} else {
		dbLogger.Logger.Warn("no database configured, data lives in memory")
		db := inmemdb.Open()
		store = Store{
			UserRepo:     inmemdb.NewUserRepository(db),
			CourseRepo:   inmemdb.NewCourseRepository(db),
			EnrollRepo:   inmemdb.NewEnrollmentRepository(db),
			ProgressRepo: inmemdb.NewProgressRepository(db),
			NotifRepo:    inmemdb.NewNotificationRepository(db),
			SupportRepo:  inmemdb.NewSupportRepository(db),
			Tx:           inmemdb.NewTxRunner(),
		}
		chatRepo = inmemdb.NewChatRepository(db)
	}
	store.ChatRepo, store.SettingsRepo = chatRepo, chatRepo

	if conf.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, err := mongorepos.Connect(ctx, conf.MongoURI)
		if err != nil {
			dbLogger.Logger.Fatal(fmt.Sprintf("connecting to mongodb: %v", err), err)
		}
		cleanup.Add(func() error { return client.Disconnect(context.Background()) })

		repo := mongorepos.NewChatRepository(client.Database(conf.MongoDatabase))
		if err = repo.EnsureIndexes(ctx); err != nil {
			dbLogger.Logger.Fatal(fmt.Sprintf("creating chat indexes: %v", err), err)
		}
		store.ChatRepo = repo
	}
	return store
}

// newBroker uses Redis pub/sub when RedisURL is set, so every API instance sees every notification.
func newBroker(conf *core.Config, logger core.Logger, cleanup *Cleanup) notification.Broker {
	if conf.RedisURL == "" {
		return pubsub.NewMemoryBroker()
	}
	client, err := pubsub.NewRedisClient(conf.RedisURL)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	broker := pubsub.NewRedisBroker(client, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = broker.Ping(ctx); err != nil {
		logger.Fatal(fmt.Sprintf("pinging redis: %v", err), err)
	}
	cleanup.Add(broker.Close)
	return broker
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(logger)
	}
	return emailsvc.NewSendgridService(logger)
}

// newRouter registers the providers that are configured.
func newRouter(conf *core.Config, m *metrics.Metrics) *aichat.Router {
	var providers []aichat.Provider
	if conf.AI.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(conf))
	}
	if conf.AI.OllamaBaseURL != "" {
		providers = append(providers, ollama.New(conf))
	}
	return aichat.NewRouter(m, providers...)
}

type notificationParams struct {
	dig.In

	Repo     notification.Repository
	UserRepo user.Repository // lists admins
	Broker   notification.Broker
	Validate *validator.Validate
	Logger   core.Logger
}

func newNotificationService(p notificationParams) notification.ServiceInterface {
	return notification.NewService(p.Repo, p.Broker, p.UserRepo, p.Validate, p.Logger)
}

func newAIChatService(
	conf *core.Config,
	repo aichat.Repository,
	settingsRepo aichat.SettingsRepository,
	router *aichat.Router,
	m *metrics.Metrics,
	validate *validator.Validate,
	logger core.Logger,
) aichat.ServiceInterface {
	return aichat.NewService(conf, repo, settingsRepo, router, m, validate, logger)
}

func newScheduler(
	conf *core.Config,
	userSvc user.ServiceInterface,
	enrSvc enrollment.ServiceInterface,
	notifSvc notification.ServiceInterface,
	mailSvc core.EmailService,
	m *metrics.Metrics,
	logger core.Logger,
) *jobs.Scheduler {
	return jobs.NewScheduler(conf, userSvc, enrSvc, notifSvc, mailSvc, m, logger)
}

type serverParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Metrics    *metrics.Metrics

	UserSvc     user.ServiceInterface
	CourseSvc   course.ServiceInterface
	EnrollSvc   enrollment.ServiceInterface
	ProgressSvc progress.ServiceInterface
	NotifSvc    notification.ServiceInterface
	SupportSvc  support.ServiceInterface
	AIChatSvc   aichat.ServiceInterface
}

func newServer(p serverParams) *echoapi.Server {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return echoapi.NewServer(p.Conf.Server.Address, shutdown, &echoapi.Deps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		Metrics:     p.Metrics,
		UserSvc:     p.UserSvc,
		CourseSvc:   p.CourseSvc,
		EnrollSvc:   p.EnrollSvc,
		ProgressSvc: p.ProgressSvc,
		NotifSvc:    p.NotifSvc,
		SupportSvc:  p.SupportSvc,
		AIChatSvc:   p.AIChatSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(func() *Cleanup { return new(Cleanup) }))
	must(c.Provide(newValidator))
	must(c.Provide(metrics.New))
	must(c.Provide(newStore))
	must(c.Provide(newBroker))
	must(c.Provide(newEmailService))
	must(c.Provide(newRouter))
	must(c.Provide(newNotificationService))
	must(c.Provide(user.NewService))
	must(c.Provide(course.NewService))
	must(c.Provide(enrollment.NewService))
	must(c.Provide(progress.NewService))
	must(c.Provide(support.NewService))
	must(c.Provide(newAIChatService))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

// Assets are loaded once, before serving.
func LoadAssets(logger core.Logger) {
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords, logger)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)
}
