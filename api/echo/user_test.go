package echoapi_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core/user"
)

func TestUserLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "valid credentials",
			body:     `{"username": "aminafield", "password": "s3cr3t-pass"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "login with email",
			body:     `{"username": "amina@relieflab.org", "password": "s3cr3t-pass"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "wrong password",
			body:     `{"username": "aminafield", "password": "nope"}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "authentication failed",
		},
		{
			name:     "unknown user",
			body:     `{"username": "ghost", "password": "s3cr3t-pass"}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "authentication failed",
		},
		{
			name:     "missing password",
			body:     `{"username": "aminafield"}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "validation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", []byte(tt.body))
			app.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			env := decodeEnvelope(t, rec)
			if tt.wantCode == http.StatusOK {
				var data struct {
					Token string `json:"token"`
				}
				require.NoError(t, json.Unmarshal(env.Data, &data))
				assert.NotEmpty(t, data.Token)
			} else {
				assert.False(t, env.Success)
				assert.Equal(t, tt.wantMsg, env.Message)
			}
		})
	}
}

func TestUserMe(t *testing.T) {
	req, rec := newRequest(http.MethodGet, "/v1/users/me")
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing or malformed jwt", decodeEnvelope(t, rec).Message)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users/me", getToken(t, assessor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var usr user.User
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &usr))
	assert.Equal(t, assessor.ID, usr.ID)
	assert.Equal(t, "aminafield", usr.Username)
}

func TestUserQueryAdminOnly(t *testing.T) {
	req, rec := newAuthRequest(http.MethodGet, "/v1/users", getToken(t, assessor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission denied", decodeEnvelope(t, rec).Message)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users", getToken(t, admin))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var users []user.User
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &users))
	assert.GreaterOrEqual(t, len(users), 4)
}

func TestUserRegister(t *testing.T) {
	body := marshalObj(t, user.NewUser{
		Name:            "Rita Responder",
		Username:        "ritaresp",
		Email:           "rita@relieflab.org",
		Password:        "S3cr3t-pass!",
		PasswordConfirm: "S3cr3t-pass!",
		Roles:           []string{user.RoleResponder},
	})

	// only admins may register users
	req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, coordinator), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, admin), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var usr user.User
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &usr))
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "ritaresp", usr.Username)

	// duplicate username is a validation error
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, admin), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Contains(t, env.Errors, "username")
}

func TestUserRetrieveOwnOnly(t *testing.T) {
	// non-admins may only reach their own record
	req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+admin.ID, getToken(t, donor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+donor.ID, getToken(t, donor))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+donor.ID, getToken(t, admin))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
