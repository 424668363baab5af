// Package xlog provides the single structured logger shared by all
// three executables, built on zap.
package xlog

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a production zap logger, or a development one with nicer
// console output when dev is true (used by the CLIs' -verbose flag).
func New(dev bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("xlog: building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, used by tests that
// exercise components requiring a logger but don't want its output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// PeerAddr formats a peer's address ("ip:port") as a shared helper so
// every package logs peers identically.
func PeerAddr(ip string, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}
