package afpacket

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	etherTypeOffset  = 12
	etherTypeControl = 0x8808
	packetOutgoing   = 4 // PACKET_OUTGOING
)

// receiveFilter returns the program installed on the ring. It rejects MAC
// control frames, so injected pause frames never come back as receives, and
// with skipOutgoing also rejects frames the host itself transmitted.
func receiveFilter(snapLen int, skipOutgoing bool) []bpf.Instruction {
	var prog []bpf.Instruction
	if skipOutgoing {
		prog = append(prog,
			bpf.LoadExtension{Num: bpf.ExtType},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: packetOutgoing, SkipTrue: 3},
		)
	}
	return append(prog,
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeControl, SkipTrue: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	)
}

func assembleReceiveFilter(snapLen int, skipOutgoing bool) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(receiveFilter(snapLen, skipOutgoing))
	if err != nil {
		return nil, fmt.Errorf("assemble receive filter: %w", err)
	}
	return raw, nil
}
