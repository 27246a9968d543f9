package cmd

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"firestige.xyz/pausefilter/internal/filter"
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Print the pause frame sent for an address",
	Long: `Build the pause frame the filter transmits for a source address and pause
value, and print it decoded layer by layer with a hex dump.

Examples:
  pausefilter frame --mac aa:bb:cc:dd:ee:ff --value 0x8000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFrame(frameMAC, frameValue, cmd.OutOrStdout())
	},
}

var (
	frameMAC   string
	frameValue uint16
)

func init() {
	frameCmd.Flags().StringVar(&frameMAC, "mac", "", "source hardware address (required)")
	frameCmd.Flags().Uint16Var(&frameValue, "value", 0x8000, "pause time in quanta")
	frameCmd.MarkFlagRequired("mac")
}

func runFrame(mac string, value uint16, out io.Writer) error {
	addr, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("invalid --mac: %w", err)
	}
	payload, err := filter.NewPausePayload(addr, value)
	if err != nil {
		return err
	}
	frame := payload.Frame()

	decoded, err := filter.DecodePauseFrame(frame)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pause frame %s -> %s opcode=0x%04x value=0x%04x (%d bytes)\n",
		decoded.Source, decoded.Destination, decoded.Opcode, decoded.Value, len(frame))

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	fmt.Fprint(out, pkt.Dump())
	return nil
}
