package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// for Log

func initLogrus(_ *viper.Viper) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	ApplyLogLevel()
}

// ApplyLogLevel maps the Debug flag onto the logrus level. Called once at
// init and again after flag parsing, when Debug has its final value.
func ApplyLogLevel() {
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	initLogrus(nil)
}
