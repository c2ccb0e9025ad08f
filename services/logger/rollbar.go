// Package logsvc holds the core.Logger implementations: rollbar for the
// central API, zap for the field agent.
package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/user"
)

// RollbarLogger reports to rollbar and mirrors everything to a standard
// logger so local output survives when the tracker is disabled.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// prepare splits args into rollbar arguments. Errors pass through so rollbar
// captures their stack; "key", value pairs collapse into one custom-data map;
// a user.User becomes the reported person.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	out := []interface{}{msg}
	extra := make(map[string]interface{})
	var usrSet bool
	var key string
	for _, arg := range args {
		switch v := arg.(type) {
		case user.User:
			if !usrSet {
				rollbar.SetPerson(v.ID, v.Username, v.Email)
				usrSet = true
			}
		case error:
			out = append(out, v)
		case string:
			if key == "" {
				key = v
				continue
			}
			extra[key] = v
			key = ""
		case map[string]interface{}:
			for k, mv := range v {
				extra[k] = mv
			}
		default:
			if key != "" {
				extra[key] = v
				key = ""
			}
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	if len(extra) > 0 {
		out = append(out, extra)
	}
	return out
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(append([]interface{}{msg}, args...)...)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(msg, args)
	l.std.Fatal(msg)
}
