package logsvc

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/user"
)

// ZapLogger logs structured lines to stderr. The field agent runs on laptops
// in the field with no error tracker to report to, so everything stays local.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(conf *core.Config) *ZapLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if conf.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)
	if !conf.Debug {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	zl := zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)).
		With(zap.String("app", conf.AppName), zap.String("build", conf.Build))
	return &ZapLogger{sugar: zl.Sugar(), level: level}
}

func (l *ZapLogger) Enable(enabled bool) {
	if enabled {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.FatalLevel)
	}
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l *ZapLogger) fields(args []interface{}) []interface{} {
	flds := make([]interface{}, 0, 2*len(args))
	var key string
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			if key == "" {
				key = v
				continue
			}
			flds = append(flds, key, v)
			key = ""
		case error:
			flds = append(flds, "error", v)
		case user.User:
			flds = append(flds, "user", v.Username)
		case map[string]interface{}:
			for k, mv := range v {
				flds = append(flds, k, mv)
			}
		default:
			if key != "" {
				flds = append(flds, key, v)
				key = ""
			} else {
				flds = append(flds, "arg", v)
			}
		}
	}
	return flds
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, l.fields(args)...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, l.fields(args)...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, l.fields(args)...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, l.fields(args)...) }
func (l *ZapLogger) Fatal(msg string, args ...interface{}) { l.sugar.Fatalw(msg, l.fields(args)...) }
