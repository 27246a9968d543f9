//go:build !linux

package afpacket

import (
	"context"
	"log/slog"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host"
)

// Host is unavailable on this platform.
type Host struct {
	host.Framework
}

// New always fails with ErrUnsupportedPlatform.
func New(Config, *slog.Logger) (*Host, error) {
	return nil, ErrUnsupportedPlatform
}

func (h *Host) Handle() core.Handle { return 0 }

func (h *Host) AttachParameters() *core.AttachParameters { return nil }

func (h *Host) Bind(host.Module) {}

func (h *Host) LinkUp() bool { return false }

func (h *Host) Run(context.Context) error { return ErrUnsupportedPlatform }

func (h *Host) Close() error { return nil }
