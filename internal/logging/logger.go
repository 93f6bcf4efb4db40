package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"iot-socket-server/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// Setup 根据配置创建日志
func Setup(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	// 设置输出
	switch {
	case cfg.Output == "file" && cfg.FilePath != "":
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("打开日志文件失败: %v, 使用标准输出", err)
		}
	case cfg.Output == "stderr":
		log.SetOutput(os.Stderr)
	case cfg.Output == "discard":
		log.SetOutput(io.Discard)
	}

	return log
}
