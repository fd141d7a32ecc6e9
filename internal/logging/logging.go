// Package logging 按配置构建zap日志
package logging

import (
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建日志，Development为真时输出控制台格式
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "无效的日志级别 %q", cfg.Level)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "创建日志失败")
	}
	return logger, nil
}
