package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func setupLogging(s *Settings) error {
	level, err := logrus.ParseLevel(s.Log.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	logrus.SetLevel(level)
	if s.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return nil
}
