package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the process-wide logrus logger: JSON lines to stdout and
// a size-rotated file.
func Setup(level, dir string) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if dir == "" {
		log.SetOutput(os.Stdout)
		return log
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.SetOutput(os.Stdout)
		return log
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "clob.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	return log
}
