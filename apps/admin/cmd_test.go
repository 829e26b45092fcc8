package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/apps/api/di"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	eventsvc "github.com/trezcool/academia/services/events"
	logsvc "github.com/trezcool/academia/services/logger"
	dummypay "github.com/trezcool/academia/services/payment/dummy"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	"github.com/trezcool/academia/tests"
)

const testPassword = "Zebra-Quartz-2049"

func setup(t *testing.T) *commandLine {
	conf := core.NewTestConfig()
	logger := logsvc.NewDiscardLogger()
	user.LoadCommonPasswords(logger)

	b := di.MemoryBackends(inmemdb.Open(), conf)
	b.MailSvc = emailsvc.NewConsoleServiceMock(conf, logger)
	b.Gateway = dummypay.NewGateway()
	b.Events = eventsvc.NewRecorder()

	return &commandLine{c: di.New(conf, logger, b), b: b}
}

func mockPassword(t *testing.T, pwd string) {
	t.Cleanup(func(f func(int) ([]byte, error)) func() {
		return func() { readPasswordFunc = f }
	}(readPasswordFunc))
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, cli *commandLine) {
	err := cli.run(append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		require.Error(t, err)
		assert.Equal(t, tt.wantErrStr, err.Error())
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli := setup(t)
	for _, tt := range []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	} {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	t.Run("no database", func(t *testing.T) {
		cliTest{args: []string{"migrate", "up"}, wantErr: errNoDatabase}.check(t, cli)
	})

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	cli.db = db

	defer func(f func(context.Context, string, *sql.DB, string, ...string) error) { gooseRunFunc = f }(gooseRunFunc)
	gooseRunFunc = func(_ context.Context, command string, _ *sql.DB, dir string, args ...string) error {
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}
}

func Test_commandLine_addTenant(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"addtenant"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"addtenant", "-lol"}, wantErr: errHelp},
		{name: "create", args: []string{"addtenant", "-slug", "Acme", "-name", "Acme Inc."}},
		{name: "slug from name", args: []string{"addtenant", "-name", "Globex Corp", "-currency", "eur"}},
		{name: "slug taken", args: []string{"addtenant", "-slug", "acme", "-name", "Acme"}, wantErrStr: tenant.ErrSlugExists.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}

	ctx := context.Background()
	tnt, err := cli.c.TenantSvc.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc.", tnt.Name)
	assert.Equal(t, "USD", tnt.Currency)
	assert.True(t, tnt.IsActive)

	tnt, err = cli.c.TenantSvc.GetBySlug(ctx, "globex-corp")
	require.NoError(t, err)
	assert.Equal(t, "EUR", tnt.Currency)

	for _, tt := range []cliTest{
		{name: "list", args: []string{"tenants"}},
		{name: "search", args: []string{"tenants", "-search", "acme"}},
		{name: "settenant: no slug", args: []string{"settenant", "-active=false"}, wantErr: errHelp},
		{name: "settenant: unknown", args: []string{"settenant", "-slug", "lol", "-active=false"}, wantErr: tenant.ErrNotFound},
		{name: "deactivate", args: []string{"settenant", "-slug", "acme", "-active=false"}},
	} {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
	}

	_, err = cli.c.TenantSvc.GetActiveBySlug(ctx, "acme")
	assert.Equal(t, tenant.ErrUnavailable, errors.Cause(err))
	cliTest{args: []string{"settenant", "-slug", "acme"}}.check(t, cli)
	_, err = cli.c.TenantSvc.GetActiveBySlug(ctx, "acme")
	assert.NoError(t, err)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	tnt := testutil.CreateTenant(t, cli.b.Tenants, "acme", true)

	t.Run("usage", func(t *testing.T) {
		mockPassword(t, testPassword)
		for _, tt := range []cliTest{
			{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
			{name: "no tenant", args: []string{"adduser", "-username", "jane"}, wantErr: errHelp},
			{name: "no username nor email", args: []string{"adduser", "-tenant", "acme"}, wantErr: errHelp},
			{name: "unknown tenant", args: []string{"adduser", "-tenant", "lol", "-username", "jane"}, wantErr: tenant.ErrNotFound},
		} {
			t.Run(tt.name, func(t *testing.T) { tt.check(t, cli) })
		}
	})

	t.Run("no password", func(t *testing.T) {
		mockPassword(t, "")
		cliTest{args: []string{"adduser", "-tenant", "acme", "-username", "jane"}, wantErr: errHelp}.check(t, cli)
	})

	t.Run("weak password", func(t *testing.T) {
		mockPassword(t, "password")
		err := cli.run([]string{"admin", "adduser", "-tenant", "acme", "-username", "jane"})
		assert.Error(t, err)
	})

	t.Run("create admin", func(t *testing.T) {
		mockPassword(t, testPassword)
		cliTest{args: []string{"adduser", "-tenant", "acme", "-username", "Jane", "-email", "jane@test.test", "-admin"}}.check(t, cli)

		usr, err := cli.c.UserSvc.GetByUsernameOrEmail(ctx, tnt.ID, "jane")
		require.NoError(t, err)
		assert.Equal(t, "Jane", usr.Name)
		assert.Equal(t, "jane@test.test", usr.Email)
		assert.Equal(t, user.AllRoles, usr.Roles)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword(testPassword))
	})

	t.Run("update by email", func(t *testing.T) {
		usr := testutil.CreateUser(t, cli.b.Users, tnt.ID, "John", "john", "john@test.test", "", nil, false)

		mockPassword(t, "Yak-Bamboo-1987")
		cliTest{args: []string{"adduser", "-tenant", "acme", "-email", "JOHN@test.test", "-name", " John Doe "}}.check(t, cli)

		usr, err := cli.c.UserSvc.GetByID(ctx, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, "John Doe", usr.Name)
		assert.Empty(t, usr.Roles)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("Yak-Bamboo-1987"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)
	tnt := testutil.CreateTenant(t, cli.b.Tenants, "acme", true)
	usr := testutil.CreateUser(t, cli.b.Users, tnt.ID, "User", "awe", "awe@test.cd", testPassword, nil, true)

	tests := []struct {
		cliTest
		pwd string
	}{
		{cliTest: cliTest{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "no tenant", args: []string{"resetpassword", "-username", "awe"}, wantErr: errHelp}, pwd: "lol"},
		{cliTest: cliTest{name: "username but no password", args: []string{"resetpassword", "-tenant", "acme", "-username", "lol"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "tenant not found", args: []string{"resetpassword", "-tenant", "lol", "-username", "awe"}, wantErr: tenant.ErrNotFound}, pwd: "lol"},
		{cliTest: cliTest{name: "user not found", args: []string{"resetpassword", "-tenant", "acme", "-username", "lol"}, wantErr: user.ErrNotFound}, pwd: "lol"},
		{cliTest: cliTest{name: "reset with username", args: []string{"resetpassword", "-tenant", "acme", "-username", usr.Username}}, pwd: "lol"},
		{cliTest: cliTest{name: "reset with email", args: []string{"resetpassword", "-tenant", "acme", "-username", usr.Email}}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)
			tt.check(t, cli)
			if tt.wantErr != nil || tt.wantErrStr != "" {
				return
			}
			refreshedUsr, err := cli.c.UserSvc.GetByID(context.Background(), usr.ID)
			require.NoError(t, err)
			assert.NoError(t, refreshedUsr.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_autoSubmit(t *testing.T) {
	cli := setup(t)
	cliTest{args: []string{"autosubmit"}}.check(t, cli)
}
