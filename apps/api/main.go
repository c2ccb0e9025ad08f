package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/relieflab/dms/api/echo"
	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/donation"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/incident"
	"github.com/relieflab/dms/core/media"
	"github.com/relieflab/dms/core/notification"
	"github.com/relieflab/dms/core/response"
	"github.com/relieflab/dms/core/user"
	emailsvc "github.com/relieflab/dms/services/email"
	logsvc "github.com/relieflab/dms/services/logger"
	"github.com/relieflab/dms/storage/database"
	sqlxrepos "github.com/relieflab/dms/storage/database/sqlx"
)

func main() {
	conf := core.LoadConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()
	if err = database.Migrate(db); err != nil {
		logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}
	xdb := sqlx.NewDb(db, conf.Database.Engine)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(xdb), mailSvc)
	notifSvc := notification.NewService(sqlxrepos.NewNotificationRepository(xdb), usrSvc, mailSvc)
	entSvc := entity.NewService(sqlxrepos.NewEntityRepository(xdb))
	incSvc := incident.NewService(sqlxrepos.NewIncidentRepository(xdb), notifSvc)
	assessSvc := assessment.NewService(sqlxrepos.NewAssessmentRepository(xdb), entSvc, notifSvc, incSvc)
	respSvc := response.NewService(sqlxrepos.NewResponseRepository(xdb), entSvc, assessSvc, notifSvc)
	donSvc := donation.NewService(sqlxrepos.NewDonationRepository(xdb), notifSvc)
	mediaSvc := media.NewService(sqlxrepos.NewMediaRepository(xdb), conf.Media)

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	app := echoapi.NewServer(&echoapi.Options{
		Address:         conf.Server.Address(),
		Logger:          logger,
		UserSvc:         usrSvc,
		EntitySvc:       entSvc,
		AssessmentSvc:   assessSvc,
		ResponseSvc:     respSvc,
		IncidentSvc:     incSvc,
		DonationSvc:     donSvc,
		MediaSvc:        mediaSvc,
		NotificationSvc: notifSvc,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API listening on " + conf.Server.Address())
		serverErrors <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serverErrors:
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case <-app.ShutdownSignal():
		logger.Error("integrity issue detected: shutting down")

	case sig := <-quit:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err = app.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}
