package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/progress"
	"github.com/luxaar/luxaar/core/support"
	"github.com/luxaar/luxaar/core/user"
	"github.com/luxaar/luxaar/services/metrics"
)

type (
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Metrics    *metrics.Metrics // optional

		UserSvc     user.ServiceInterface
		CourseSvc   course.ServiceInterface
		EnrollSvc   enrollment.ServiceInterface
		ProgressSvc progress.ServiceInterface
		NotifSvc    notification.ServiceInterface
		SupportSvc  support.ServiceInterface
		AIChatSvc   aichat.ServiceInterface
	}

	Server struct {
		address  string
		app      *echo.Echo
		deps     *Deps
		auth     *authenticator
		errors   chan error
		shutdown chan os.Signal
	}
)

// NewServer builds the API. shutdown receives OS signals (and internal shutdown requests); it may be nil in tests.
func NewServer(address string, shutdown chan os.Signal, deps *Deps) *Server {
	if shutdown == nil {
		shutdown = make(chan os.Signal, 1)
	}
	s := &Server{
		address:  address,
		app:      echo.New(),
		deps:     deps,
		auth:     newAuthenticator(deps.Conf),
		errors:   make(chan error, 1),
		shutdown: shutdown,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if s.deps.Metrics != nil {
		s.app.Use(metricsMiddleware(s.deps.Metrics))
	}
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{conf.FrontendBaseURL},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.app.Use(middleware.BodyLimit("2M"))

	s.app.GET("/", s.home)
	if s.deps.Metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	v1 := s.app.Group("/v1")
	authed := []echo.MiddlewareFunc{s.auth.jwt(), s.auth.requireUser(s.deps.UserSvc)}

	registerUserAPI(v1, authed, s.auth, s.deps)
	registerCourseAPI(v1, authed, s.deps)
	registerEnrollmentAPI(v1, authed, s.deps)
	registerNotificationAPI(v1, authed, s.auth, s.deps)
	registerSupportAPI(v1, authed, s.deps)
	registerAIChatAPI(v1, authed, s.deps)
	registerAdminAPI(v1, authed, s.deps)
}

// Start blocks serving HTTP; a failure is reported on Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.address); err != nil && err != http.ErrServerClosed {
		s.errors <- errors.Wrap(err, "starting server")
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the process to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
