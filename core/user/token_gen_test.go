package user

import (
	"testing"
	"time"

	"github.com/relieflab/dms/core"
)

func TestMakeVerifyToken(t *testing.T) {
	core.LoadConfig()

	now := time.Now()
	active := true
	usr := User{
		ID:        "c31d43c6-43e2-4ae7-a4d4-07fbc87f02a3",
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		IsActive:  &active,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = usr.SetPassword("pwd")

	validToken, err := MakeToken(usr)
	if err != nil {
		t.Fatalf("MakeToken() failed: %v", err)
	}

	// generate an expired token
	dayLate := core.Conf.PasswordResetTimeoutDelta + (24 * time.Hour)
	NowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken, err := MakeToken(usr)
	if err != nil {
		t.Fatalf("MakeToken() failed: %v", err)
	}
	NowFunc = time.Now // reset

	otherUsr := usr
	otherUsr.ID = "81fa42bd-6cbd-45a5-973b-6c5f5173d5b3"

	tests := []struct {
		name    string
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "another user's token", usr: otherUsr, token: validToken, wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "valid token", usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyToken(tt.usr, tt.token); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenSingleUse(t *testing.T) {
	core.LoadConfig()

	usr := User{ID: "9b8e3a54-2f31-44ac-9a66-9f55ce11e3c0", LastLogin: time.Now()}
	_ = usr.SetPassword("pwd")

	token, err := MakeToken(usr)
	if err != nil {
		t.Fatalf("MakeToken() failed: %v", err)
	}
	if err = verifyToken(usr, token); err != nil {
		t.Fatalf("verifyToken() failed: %v", err)
	}

	// a password change invalidates the token
	_ = usr.SetPassword("newpwd")
	if err = verifyToken(usr, token); err != errInvalidToken {
		t.Errorf("verifyToken() error = %v, want %v", err, errInvalidToken)
	}
}
