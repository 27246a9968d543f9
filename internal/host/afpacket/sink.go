package afpacket

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pausefilter/internal/nbl"
)

// pcapSink stands in for the protocol layer above the filter: it records
// every frame indicated to it.
type pcapSink struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	frames uint64
}

func newPcapSink(w io.Writer, snapLen int) (*pcapSink, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	s := &pcapSink{w: pw}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func openPcapSink(path string, snapLen int) (*pcapSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	s, err := newPcapSink(f, snapLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// write records every buffer of the chain. ts is used for lists that carry
// no capture timestamp of their own.
func (s *pcapSink) write(chain *nbl.NetBufferList, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for l := chain; l != nil; l = l.Next {
		when := ts
		if rf, ok := l.Context.(*rxFrame); ok {
			when = rf.timestamp
		}
		for nb := l.First; nb != nil; nb = nb.Next {
			data := nb.Bytes()
			ci := gopacket.CaptureInfo{
				Timestamp:     when,
				CaptureLength: len(data),
				Length:        len(data),
			}
			if err := s.w.WritePacket(ci, data); err != nil {
				return err
			}
			s.frames++
		}
	}
	return nil
}

func (s *pcapSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
