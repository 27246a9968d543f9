package filter

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	logpkg "firestige.xyz/pausefilter/internal/log"
)

// DebugLevel is the diagnostic verbosity of the engine. Higher is louder.
type DebugLevel int

const (
	DLFatal     DebugLevel = 0
	DLError     DebugLevel = 2
	DLWarn      DebugLevel = 4
	DLTrace     DebugLevel = 5
	DLInfo      DebugLevel = 6
	DLLoud      DebugLevel = 8
	DLVeryLoud  DebugLevel = 10
	DLExtraLoud DebugLevel = 20
)

// LevelTrace is the slog level of per-frame diagnostics.
const LevelTrace = logpkg.LevelTrace

// SlogLevel maps the verbosity onto the minimum slog level that is emitted.
func (l DebugLevel) SlogLevel() slog.Level {
	switch {
	case l < DLError:
		return slog.LevelError + 4
	case l < DLWarn:
		return slog.LevelError
	case l < DLTrace:
		return slog.LevelWarn
	case l < DLInfo:
		return slog.LevelInfo
	case l < DLLoud:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// MaxAllowedAddresses is the size of the hardware-address allow-list.
const MaxAllowedAddresses = 4

// Params are the engine parameters read from the flat configuration store.
type Params struct {
	// AllowedAddresses lists the adapters the filter may attach to.
	AllowedAddresses []net.HardwareAddr
	// TimerPeriod is the pause-frame period. Zero disables injection.
	TimerPeriod time.Duration
	// PauseValue is the pause time written into every pause frame.
	PauseValue uint16
	// DropLength is the receive threshold. Lists whose buffers are all
	// longer are diverted to the deferred path. Zero disables classification.
	DropLength int
	DebugLevel DebugLevel

	TrackSends    bool
	TrackReceives bool

	// DetachGrace bounds how long Detach waits for a running tick.
	DetachGrace time.Duration
	// Strict turns contract violations into panics.
	Strict bool
}

// DefaultParams returns the compiled-in defaults.
func DefaultParams() Params {
	return Params{
		TimerPeriod: 3 * time.Millisecond,
		PauseValue:  0x8000,
		DebugLevel:  DLWarn,
		DetachGrace: 100 * time.Millisecond,
	}
}

// Allows reports whether addr is in the allow-list.
func (p Params) Allows(addr net.HardwareAddr) bool {
	if len(addr) != 6 {
		return false
	}
	for _, a := range p.AllowedAddresses {
		if bytes.Equal(a, addr) {
			return true
		}
	}
	return false
}

// Parameter keys of the flat store. Lookups are case-insensitive.
const (
	KeyTimerPeriod   = "TimerPeriod"
	KeyValue         = "Value"
	KeyDebugLevel    = "DebugLevel"
	KeyDropLength    = "DropLength"
	KeyTrackSends    = "TrackSends"
	KeyTrackReceives = "TrackReceives"
	KeyDetachGrace   = "DetachGrace"
	KeyStrict        = "Strict"
)

// AddressKey returns the key of allow-list entry i, MAC0 to MAC3.
func AddressKey(i int) string {
	return fmt.Sprintf("MAC%d", i)
}

// ParseParameters reads Params from a flat key/value store. Absent keys
// keep their defaults, and so do malformed ones; each malformed key yields
// one warning.
func ParseParameters(store map[string]any) (Params, []string) {
	p := DefaultParams()
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}

	values := make(map[string]any, len(store))
	for k, v := range store {
		values[strings.ToLower(k)] = v
	}
	lookup := func(key string) (any, bool) {
		v, ok := values[strings.ToLower(key)]
		return v, ok && v != nil
	}

	for i := 0; i < MaxAllowedAddresses; i++ {
		key := AddressKey(i)
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		addr, err := decodeAddress(raw)
		if err != nil {
			warn(key, err)
			continue
		}
		p.AllowedAddresses = append(p.AllowedAddresses, addr)
	}

	if raw, ok := lookup(KeyTimerPeriod); ok {
		if ms, err := decodeNonNegative(raw); err != nil {
			warn(KeyTimerPeriod, err)
		} else {
			p.TimerPeriod = time.Duration(ms) * time.Millisecond
		}
	}
	if raw, ok := lookup(KeyValue); ok {
		if v, err := decodeNonNegative(raw); err != nil {
			warn(KeyValue, err)
		} else {
			p.PauseValue = uint16(min(v, 0xffff))
		}
	}
	if raw, ok := lookup(KeyDebugLevel); ok {
		if v, err := decodeNonNegative(raw); err != nil {
			warn(KeyDebugLevel, err)
		} else {
			p.DebugLevel = DebugLevel(v)
		}
	}
	if raw, ok := lookup(KeyDropLength); ok {
		if v, err := decodeNonNegative(raw); err != nil {
			warn(KeyDropLength, err)
		} else {
			p.DropLength = int(v)
		}
	}
	for key, dst := range map[string]*bool{
		KeyTrackSends:    &p.TrackSends,
		KeyTrackReceives: &p.TrackReceives,
		KeyStrict:        &p.Strict,
	} {
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		var b bool
		if err := weakDecode(raw, &b); err != nil {
			warn(key, err)
			continue
		}
		*dst = b
	}
	if raw, ok := lookup(KeyDetachGrace); ok {
		if d, err := decodeDuration(raw); err != nil {
			warn(KeyDetachGrace, err)
		} else {
			p.DetachGrace = d
		}
	}

	sort.Strings(warnings)
	return p, warnings
}

// ToStore renders p back into flat store form.
func (p Params) ToStore() map[string]any {
	store := map[string]any{
		KeyTimerPeriod:   p.TimerPeriod.Milliseconds(),
		KeyValue:         int(p.PauseValue),
		KeyDebugLevel:    int(p.DebugLevel),
		KeyDropLength:    p.DropLength,
		KeyTrackSends:    p.TrackSends,
		KeyTrackReceives: p.TrackReceives,
		KeyDetachGrace:   p.DetachGrace.String(),
		KeyStrict:        p.Strict,
	}
	for i, a := range p.AllowedAddresses {
		store[AddressKey(i)] = a.String()
	}
	return store
}

func weakDecode(raw, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func decodeNonNegative(raw any) (int64, error) {
	var v int64
	if err := weakDecode(raw, &v); err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %d", v)
	}
	return v, nil
}

// decodeDuration accepts a duration string or an integer number of milliseconds.
func decodeDuration(raw any) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(s)
		if err == nil {
			if d < 0 {
				return 0, fmt.Errorf("negative duration %s", d)
			}
			return d, nil
		}
	}
	ms, err := decodeNonNegative(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// decodeAddress accepts "aa:bb:cc:dd:ee:ff", "aa-bb-..." or six byte values.
func decodeAddress(raw any) (net.HardwareAddr, error) {
	switch v := raw.(type) {
	case string:
		addr, err := net.ParseMAC(v)
		if err != nil {
			return nil, err
		}
		if len(addr) != 6 {
			return nil, fmt.Errorf("address %q is not 6 bytes", v)
		}
		return addr, nil
	case []byte:
		if len(v) != 6 {
			return nil, fmt.Errorf("address has %d bytes", len(v))
		}
		return net.HardwareAddr(append([]byte(nil), v...)), nil
	}

	var octets []int
	if err := weakDecode(raw, &octets); err != nil {
		return nil, err
	}
	if len(octets) != 6 {
		return nil, fmt.Errorf("address has %d bytes", len(octets))
	}
	addr := make(net.HardwareAddr, 6)
	for i, o := range octets {
		if o < 0 || o > 0xff {
			return nil, fmt.Errorf("octet %d out of range", o)
		}
		addr[i] = byte(o)
	}
	return addr, nil
}
