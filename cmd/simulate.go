package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/filter"
	"firestige.xyz/pausefilter/internal/host/memhost"
	"firestige.xyz/pausefilter/internal/nbl"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the filter against an in-memory adapter and print its counters",
	Long: `Run one attachment lifecycle against an in-memory adapter:
attach, restart, link up, one receive indication, a number of timer ticks,
then pause, detach and unload. The counters of the filter are printed at
the end.

Examples:
  pausefilter simulate --frames 50,150,200 --drop-length 100 --ticks 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(simOpts, cmd.OutOrStdout())
	},
}

type simulateOptions struct {
	MAC        string
	Frames     []int
	DropLength int
	Ticks      int
	Value      uint16
	CPUs       int
}

var simOpts simulateOptions

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.MAC, "mac", "02:00:00:00:00:01", "adapter hardware address")
	f.IntSliceVar(&simOpts.Frames, "frames", []int{50, 150, 200}, "frame lengths, one list per frame")
	f.IntVar(&simOpts.DropLength, "drop-length", 100, "receive threshold in bytes")
	f.IntVar(&simOpts.Ticks, "ticks", 3, "timer expirations to run")
	f.Uint16Var(&simOpts.Value, "value", 0x8000, "pause time in quanta")
	f.IntVar(&simOpts.CPUs, "cpus", 4, "simulated processors")
}

func runSimulate(opts simulateOptions, out io.Writer) error {
	addr, err := net.ParseMAC(opts.MAC)
	if err != nil {
		return fmt.Errorf("invalid --mac: %w", err)
	}

	h := memhost.New(memhost.Config{Address: addr, NumProcessors: opts.CPUs})

	params := filter.DefaultParams()
	params.AllowedAddresses = []net.HardwareAddr{addr}
	params.DropLength = opts.DropLength
	params.PauseValue = opts.Value
	params.TimerPeriod = 10 * time.Millisecond

	d, err := filter.NewDriver(h, params, filter.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return err
	}
	f, err := d.Attach(h.Handle(), h.AttachParameters())
	if err != nil {
		return err
	}
	h.Bind(f)

	if err := f.Restart(&core.RestartParameters{Attributes: &core.RestartAttributes{}}); err != nil {
		return err
	}
	f.Status(&core.StatusIndication{
		StatusCode: core.StatusLinkState,
		Payload:    core.LinkState{MediaConnectState: core.MediaConnectStateConnected},
	})

	lists := make([]*nbl.NetBufferList, len(opts.Frames))
	for i, n := range opts.Frames {
		lists[i] = nbl.FromFrames(make([]byte, n))
	}
	if len(lists) > 0 {
		f.ReceiveNetBufferLists(nbl.Link(lists...), 0, len(lists), 0)
	}

	timers := h.Timers()
	for i := 0; i < opts.Ticks && len(timers) > 0; i++ {
		timers[0].Fire()
	}

	var first *filter.PauseFrame
	for _, s := range h.Sends() {
		for _, l := range s.Lists {
			if first == nil && l.First != nil {
				if pf, err := filter.DecodePauseFrame(l.First.Bytes()); err == nil {
					first = &pf
				}
			}
			l.Next = nil
			l.Status = core.StatusSuccess
			f.SendNetBufferListsComplete(l, 0)
		}
	}

	stats := f.Stats()
	if err := f.Pause(); err != nil {
		return err
	}
	if err := f.Detach(); err != nil {
		return err
	}
	if err := d.Unload(); err != nil {
		return err
	}

	passedUp := 0
	for _, ind := range h.Indications() {
		passedUp += len(ind.Lists)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "adapter\t%s (%s)\n", addr, stats.Handle)
	fmt.Fprintf(tw, "receive indications\t%d\n", stats.Indications)
	fmt.Fprintf(tw, "lists passed up\t%d\n", passedUp)
	fmt.Fprintf(tw, "buffers diverted\t%d\n", stats.Dropped)
	fmt.Fprintf(tw, "deferred indications\t%d\n", stats.DeferredIndications)
	fmt.Fprintf(tw, "slot exhausted\t%d\n", stats.SlotExhausted)
	fmt.Fprintf(tw, "deferred processors\t%v\n", h.DeferredCPUs())
	fmt.Fprintf(tw, "timer ticks\t%d\n", stats.Ticks)
	fmt.Fprintf(tw, "pause frames sent\t%d\n", stats.PauseFramesSent)
	fmt.Fprintf(tw, "pause frames skipped\t%d\n", stats.PauseFramesSkipped)
	fmt.Fprintf(tw, "pause frames in use\t%d\n", d.Pool().Stats().InUse)
	if first != nil {
		fmt.Fprintf(tw, "pause frame\t%s -> %s value=0x%04x\n", first.Source, first.Destination, first.Value)
	}
	fmt.Fprintf(tw, "final state\t%s\n", f.State())
	return tw.Flush()
}
