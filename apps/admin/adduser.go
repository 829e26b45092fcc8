package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

// addUser updates or creates a user.User of the tenant `tenantSlug`
func (cli *commandLine) addUser(tenantSlug, name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	tnt, err := cli.c.TenantSvc.GetBySlug(ctx, tenantSlug)
	if err != nil {
		return err
	}

	var roles []string
	if isAdmin {
		roles = user.AllRoles
	}

	usr, err := cli.findUser(ctx, tnt.ID, uname, email)
	switch {
	case errors.Cause(err) == user.ErrNotFound:
		if name == "" {
			name = core.CleanString(uname)
		}
		nu := user.NewUser{
			Name:            name,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		}
		if err = nu.Validate(cli.c.Validate); err != nil {
			return err
		}
		if usr, err = cli.c.UserSvc.Create(ctx, tnt.ID, nu); err != nil {
			return err
		}
		fmt.Printf("user %q created (id: %s)\n", usr.Username, usr.ID)
		return nil

	case err != nil:
		return err
	}

	if name != "" {
		usr.Name = core.CleanString(name)
	}
	if roles != nil {
		usr.Roles = roles
	}
	usr.IsActive = true
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err = cli.b.Users.UpdateUser(ctx, usr); err != nil {
		return err
	}
	fmt.Printf("user %q updated (id: %s)\n", usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) findUser(ctx context.Context, tenantID string, unames ...string) (user.User, error) {
	for _, uname := range unames {
		if uname == "" {
			continue
		}
		usr, err := cli.c.UserSvc.GetByUsernameOrEmail(ctx, tenantID, uname)
		if errors.Cause(err) == user.ErrNotFound {
			continue
		}
		return usr, err
	}
	return user.User{}, user.ErrNotFound
}
