package main

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
)

// addUser updates or creates an active local user.User
func (cli *commandLine) addUser(ctx context.Context, name, email, role, pwd string) (user.User, error) {
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	isNew := false
	if err != nil {
		if !core.IsNotFound(err) {
			return usr, err
		}
		now := core.Now()
		usr = user.User{
			Email:        email,
			AuthProvider: user.AuthProviderLocal,
			CreatedAt:    now,
		}
		isNew = true
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	}
	if usr.Name == "" {
		usr.Name = email
	}
	usr.Role = role
	usr.IsActive = true
	usr.UpdatedAt = core.Now()
	if err = usr.SetPassword(pwd); err != nil {
		return usr, err
	}

	if isNew {
		return cli.usrRepo.CreateUser(ctx, usr)
	}
	return cli.usrRepo.UpdateUser(ctx, usr)
}
