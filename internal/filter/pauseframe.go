package filter

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pausefilter/internal/core"
)

const (
	// PauseFrameLen is the size of an injected pause frame, padding included.
	PauseFrameLen = 64
	// PausePayloadLen is the meaningful prefix of a pause frame: Ethernet
	// header, opcode and pause time.
	PausePayloadLen = 18

	// EthernetTypeMACControl is the IEEE 802.3 MAC control EtherType.
	EthernetTypeMACControl layers.EthernetType = 0x8808

	pauseOpcode uint16 = 0x0001
)

// PauseDestination is the reserved multicast address pause frames are sent to.
var PauseDestination = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x01}

// PausePayload is the precomputed prefix of every pause frame an attachment sends.
type PausePayload [PausePayloadLen]byte

// NewPausePayload builds the pause-frame prefix for source address src and
// pause time value.
func NewPausePayload(src net.HardwareAddr, value uint16) (PausePayload, error) {
	var p PausePayload
	if len(src) != 6 {
		return p, fmt.Errorf("%w: source address %v", core.ErrInvalidRequest, src)
	}

	ctl := make([]byte, 4)
	binary.BigEndian.PutUint16(ctl[0:2], pauseOpcode)
	binary.BigEndian.PutUint16(ctl[2:4], value)

	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       PauseDestination,
		EthernetType: EthernetTypeMACControl,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(ctl)); err != nil {
		return p, fmt.Errorf("serialize pause frame: %w", err)
	}
	copy(p[:], buf.Bytes())
	return p, nil
}

// Put zeroes region and writes the payload at its start. region must hold
// at least PausePayloadLen bytes.
func (p *PausePayload) Put(region []byte) {
	clear(region)
	copy(region, p[:])
}

// Frame returns a complete, zero-padded pause frame.
func (p *PausePayload) Frame() []byte {
	frame := make([]byte, PauseFrameLen)
	p.Put(frame)
	return frame
}

// PauseFrame is a decoded MAC pause frame.
type PauseFrame struct {
	Destination net.HardwareAddr
	Source      net.HardwareAddr
	Opcode      uint16
	Value       uint16
}

// DecodePauseFrame parses data as an Ethernet MAC control pause frame.
func DecodePauseFrame(data []byte) (PauseFrame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true, Lazy: true})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return PauseFrame{}, fmt.Errorf("%w: no ethernet header", core.ErrNotPauseFrame)
	}
	eth := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != EthernetTypeMACControl {
		return PauseFrame{}, fmt.Errorf("%w: ethertype %v", core.ErrNotPauseFrame, eth.EthernetType)
	}
	if len(eth.Payload) < 4 {
		return PauseFrame{}, fmt.Errorf("%w: control payload %d bytes", core.ErrNotPauseFrame, len(eth.Payload))
	}

	f := PauseFrame{
		Destination: eth.DstMAC,
		Source:      eth.SrcMAC,
		Opcode:      binary.BigEndian.Uint16(eth.Payload[0:2]),
		Value:       binary.BigEndian.Uint16(eth.Payload[2:4]),
	}
	if f.Opcode != pauseOpcode {
		return f, fmt.Errorf("%w: opcode 0x%04x", core.ErrNotPauseFrame, f.Opcode)
	}
	return f, nil
}
