package main

import (
	"context"

	"github.com/relieflab/dms/core"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true))
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = core.UTCNow()
	_, err = cli.usrRepo.UpdateUser(ctx, usr, nil)
	return err
}
