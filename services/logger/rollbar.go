package logsvc

import (
	"io"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

// RollbarLogger writes to a std logger and reports warnings and errors to Rollbar.
// A user.User or user.Actor among the args becomes the Rollbar person, and its tenant is attached as custom data.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func configureRollbar(conf *core.Config) {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && !conf.TestMode && conf.RollbarToken != "")
}

// New returns a logger prefixed with `prefix`. Rollbar is off in debug and test modes, or without a token.
func New(prefix string, conf *core.Config) *RollbarLogger {
	configureRollbar(conf)
	return &RollbarLogger{
		std: log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
	}
}

// NewDiscardLogger returns a logger that neither prints nor reports.
func NewDiscardLogger() *RollbarLogger {
	rollbar.SetEnabled(false)
	return &RollbarLogger{std: log.New(io.Discard, "", 0)}
}

// split separates the identity args from what is reported and printed.
func split(args []interface{}) (person *user.Actor, username, email string, rest []interface{}) {
	rest = make([]interface{}, 0, len(args))
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if person == nil {
				person = &user.Actor{UserID: a.ID, TenantID: a.TenantID, Roles: a.Roles}
				username, email = a.Username, a.Email
			}
		case user.Actor:
			if person == nil {
				person = &a
			}
		default:
			rest = append(rest, arg)
		}
	}
	return
}

func (l RollbarLogger) report(level, msg string, args []interface{}) []interface{} {
	person, username, email, rest := split(args)
	if level == rollbar.DEBUG || level == rollbar.INFO {
		return rest
	}

	reported := append([]interface{}{msg}, rest...)
	if person != nil {
		rollbar.SetPerson(person.UserID, username, email)
		reported = append(reported, map[string]interface{}{"tenant_id": person.TenantID, "roles": person.Roles})
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, reported...)
	return rest
}

func (l RollbarLogger) print(level, msg string, rest []interface{}) {
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range rest {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	l.print(level, msg, l.report(level, msg, args))
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
