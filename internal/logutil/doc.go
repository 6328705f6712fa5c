// Package logutil builds logrus loggers from the logging section of the
// configuration.
package logutil
