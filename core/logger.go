package core

// Logger is the logging contract shared by the API server and the field agent.
// args may carry errors, maps of extra context and a user.User to attribute the
// event to; implementations decide what to do with each.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
