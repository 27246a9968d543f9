// Package afpacket binds the filter engine to a Linux network interface
// through a TPACKET_V3 ring. Frames read from the ring are indicated to the
// engine as receives, sends are written back to the socket, and everything
// the engine passes up is optionally written to a pcap file.
package afpacket

import (
	"errors"
	"time"

	"firestige.xyz/pausefilter/internal/config"
	"firestige.xyz/pausefilter/internal/core"
)

// ErrUnsupportedPlatform is returned by New on systems without AF_PACKET.
var ErrUnsupportedPlatform = errors.New("pausefilter: afpacket binding requires linux")

// Config configures a Host.
type Config struct {
	Interface          string
	Handle             core.Handle
	SnapLen            int
	BlockSize          int
	NumBlocks          int
	PollTimeout        time.Duration
	RxCPU              int // -1 leaves the receive loop unpinned
	DeferredQueueDepth int
	LinkPollInterval   time.Duration
	PcapPath           string
}

// ConfigFrom converts the host section of the daemon configuration.
func ConfigFrom(hc config.HostConfig) Config {
	return Config{
		Interface:          hc.Interface,
		SnapLen:            hc.SnapLen,
		BlockSize:          hc.BlockSize,
		NumBlocks:          hc.NumBlocks,
		PollTimeout:        hc.PollTimeout,
		RxCPU:              hc.RxCPU,
		DeferredQueueDepth: hc.DeferredQueueDepth,
		LinkPollInterval:   hc.LinkPollInterval,
		PcapPath:           hc.PcapPath,
	}
}

func (c *Config) applyDefaults() {
	if c.Handle == 0 {
		c.Handle = 1
	}
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1 << 20
	}
	if c.NumBlocks <= 0 {
		c.NumBlocks = 8
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	if c.DeferredQueueDepth <= 0 {
		c.DeferredQueueDepth = 1024
	}
	if c.LinkPollInterval <= 0 {
		c.LinkPollInterval = time.Second
	}
}
