// Package logger 基于 logrus 提供 cachekit 的日志设施。
// 核心组件只通过注入的 *logrus.Entry 输出日志，从不决定日志写到哪里。
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config 日志配置
type Config struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// New 根据配置创建日志器。
func New(config Config) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
		})
	}

	l.SetOutput(os.Stdout)
	return l
}

// NewFromEnv 从环境变量创建日志器。
func NewFromEnv() *logrus.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		if os.Getenv("DEBUG") == "1" {
			level = "debug"
		} else {
			level = "info"
		}
	}

	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "text"
	}

	return New(Config{Level: level, Format: format})
}

// WithComponent 创建带组件名的日志条目，供组件注入使用。
func WithComponent(l *logrus.Logger, component string) *logrus.Entry {
	if l == nil {
		l = NewFromEnv()
	}
	return l.WithField("component", component)
}

// Discard 返回一个丢弃所有输出的日志条目，主要用于测试。
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return logrus.NewEntry(l)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
