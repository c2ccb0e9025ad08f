package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

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
	inmemdb "github.com/relieflab/dms/storage/database/inmem"
)

var (
	app     echoapi.Server
	usrRepo user.Repository

	entSvc    *entity.Service
	assessSvc *assessment.Service

	admin       user.User
	coordinator user.User
	assessor    user.User
	donor       user.User
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestMain(m *testing.M) {
	core.LoadConfig()
	core.Conf.Debug = false
	core.Conf.TestMode = true

	mediaDir, err := os.MkdirTemp("", "media")
	if err != nil {
		os.Exit(1)
	}
	core.Conf.Media.Dir = mediaDir

	db := inmemdb.NewDB()
	usrRepo = inmemdb.NewUserRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock()
	usrSvc := user.NewService(usrRepo, mailSvc)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db), usrSvc, mailSvc)
	entSvc = entity.NewService(inmemdb.NewEntityRepository(db))
	incSvc := incident.NewService(inmemdb.NewIncidentRepository(db), notifSvc)
	assessSvc = assessment.NewService(inmemdb.NewAssessmentRepository(db), entSvc, notifSvc, incSvc)
	respSvc := response.NewService(inmemdb.NewResponseRepository(db), entSvc, assessSvc, notifSvc)
	donSvc := donation.NewService(inmemdb.NewDonationRepository(db), notifSvc)
	mediaSvc := media.NewService(inmemdb.NewMediaRepository(db), core.Conf.Media)

	app = echoapi.NewServer(&echoapi.Options{
		DisableReqLogs:  true,
		Logger:          nopLogger{},
		UserSvc:         usrSvc,
		EntitySvc:       entSvc,
		AssessmentSvc:   assessSvc,
		ResponseSvc:     respSvc,
		IncidentSvc:     incSvc,
		DonationSvc:     donSvc,
		MediaSvc:        mediaSvc,
		NotificationSvc: notifSvc,
	})

	admin = seedUser("Grace Admin", "graceadmin", "grace@relieflab.org", user.AdminRoles)
	coordinator = seedUser("Chidi Coordinator", "chidicoord", "chidi@relieflab.org", user.CoordinatorRoles)
	assessor = seedUser("Amina Assessor", "aminafield", "amina@relieflab.org", []string{user.RoleAssessor})
	donor = seedUser("Dayo Donor", "dayodonor", "dayo@relieflab.org", user.DonorRoles)

	code := m.Run()

	_ = os.RemoveAll(mediaDir)
	os.Exit(code)
}

func seedUser(name, uname, email string, roles []string) user.User {
	active := true
	now := core.UTCNow()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  &active,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword("s3cr3t-pass"); err != nil {
		panic(err)
	}
	usr, err := usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		panic(err)
	}
	return usr
}

func getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
	Message string            `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decodeEnvelope(): %v; body %s", err, rec.Body.String())
	}
	return env
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}
