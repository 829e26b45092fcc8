package main

import (
	"context"
)

func (cli *commandLine) resetPassword(tenantSlug, uname, pwd string) error {
	ctx := context.Background()
	tnt, err := cli.c.TenantSvc.GetBySlug(ctx, tenantSlug)
	if err != nil {
		return err
	}
	usr, err := cli.c.UserSvc.GetByUsernameOrEmail(ctx, tnt.ID, uname)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.b.Users.UpdateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
