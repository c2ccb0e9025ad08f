// Package echoapi is the central REST API serving coordinators' dashboards
// and field agents' sync clients.
package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/donation"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/incident"
	"github.com/relieflab/dms/core/media"
	"github.com/relieflab/dms/core/notification"
	"github.com/relieflab/dms/core/response"
	"github.com/relieflab/dms/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Logger         core.Logger

		UserSvc         *user.Service
		EntitySvc       *entity.Service
		AssessmentSvc   *assessment.Service
		ResponseSvc     *response.Service
		IncidentSvc     *incident.Service
		DonationSvc     *donation.Service
		MediaSvc        *media.Service
		NotificationSvc *notification.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
		ShutdownSignal() <-chan struct{}
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		shutdown chan struct{}
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		shutdown: make(chan struct{}),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	debug := core.Conf.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = debug
	s.app.HideBanner = true

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	v1.GET("/health", health)

	jwt := middleware.JWTWithConfig(newJWTConfig())

	registerUserAPI(v1, jwt, s.opts.UserSvc)
	registerEntityAPI(v1, jwt, s.opts.EntitySvc)
	registerAssessmentAPI(v1, jwt, s.opts.AssessmentSvc)
	registerResponseAPI(v1, jwt, s.opts.ResponseSvc)
	registerIncidentAPI(v1, jwt, s.opts.IncidentSvc)
	registerDonationAPI(v1, jwt, s.opts.DonationSvc, s.opts.UserSvc)
	registerMediaAPI(v1, jwt, s.opts.MediaSvc)
	registerNotificationAPI(v1, jwt, s.opts.NotificationSvc)
	registerSyncAPI(v1, jwt, syncServices{
		entitySvc:     s.opts.EntitySvc,
		assessmentSvc: s.opts.AssessmentSvc,
		responseSvc:   s.opts.ResponseSvc,
		mediaSvc:      s.opts.MediaSvc,
	})
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// ShutdownSignal fires when the error handler catches an integrity error.
func (s *server) ShutdownSignal() <-chan struct{} {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the "+core.Conf.AppName+" API!")
}

func health(ctx echo.Context) error {
	return respondOK(ctx, echo.Map{"status": "up", "build": core.Conf.Build})
}
