package types

// Logger is the logging surface every component in this module takes
// as a constructor argument, never a package-level global. Implementing
// it against whatever structured logger a host application already uses
// is a one-file adapter; definition.DefaultLogger is what the module
// falls back to when the caller doesn't supply one.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}
