package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Name:     uname,
			Username: uname,
			Email:    email,
		}
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	active := true
	if usr.ID == "" {
		usr.IsActive = &active
		usr.CreatedAt = core.UTCNow()
		usr.UpdatedAt = usr.CreatedAt
		_, err = cli.usrRepo.CreateUser(ctx, usr)
		return err
	}
	usr.UpdatedAt = core.UTCNow()
	_, err = cli.usrRepo.UpdateUser(ctx, usr, &active)
	return err
}
