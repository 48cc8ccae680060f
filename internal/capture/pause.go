package capture

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/yanet-platform/linecap/internal/device"
)

// pauseDstMAC is the IEEE reserved MAC-control multicast address.
var pauseDstMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x01}

const (
	pauseEthertype  = 0x8808
	pauseOpcode     = 0x0001
	pauseParameter  = 0xFFFF
	pauseFrameLen   = 60 // zero-padded to the minimum Ethernet frame length
	defaultBurstLen = 128
)

// buildPauseTemplate renders a single minimum-length Ethernet PAUSE
// frame with the given source MAC, per spec.md §4.4.
func buildPauseTemplate(src net.HardwareAddr) []byte {
	f := make([]byte, pauseFrameLen)
	copy(f[0:6], pauseDstMAC)
	copy(f[6:12], src)
	f[12] = byte(pauseEthertype >> 8)
	f[13] = byte(pauseEthertype)
	f[14] = byte(pauseOpcode >> 8)
	f[15] = byte(pauseOpcode)
	f[16] = byte(pauseParameter >> 8)
	f[17] = byte(pauseParameter)
	// remaining bytes are already zero-padded
	return f
}

// pauseEmitter owns a preallocated burst of PAUSE-frame clones and
// transmits them on a port's TX queue while the capturer is blocked
// waiting on a ring (spec.md §4.4). Retransmission is rate-limited only
// when the emitter is built with a positive interval; with interval 0
// (what NewWorker passes) every EmitBurst call transmits a burst.
type pauseEmitter struct {
	tx       device.TxQueue
	template []byte
	burst    [][]byte
	limiter  *rate.Limiter
}

// newPauseEmitter preallocates a burst of burstLen clones of the PAUSE
// template built from src.
func newPauseEmitter(tx device.TxQueue, src net.HardwareAddr, burstLen int, interval time.Duration) *pauseEmitter {
	if burstLen <= 0 {
		burstLen = defaultBurstLen
	}
	tmpl := buildPauseTemplate(src)
	burst := make([][]byte, burstLen)
	for i := range burst {
		burst[i] = cloneFrame(tmpl)
	}
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &pauseEmitter{tx: tx, template: tmpl, burst: burst, limiter: limiter}
}

func cloneFrame(tmpl []byte) []byte {
	cp := make([]byte, len(tmpl))
	copy(cp, tmpl)
	return cp
}

// EmitBurst transmits the preallocated burst, refilling any slots the
// driver consumed by byte-copying the template into fresh buffers
// (spec.md §4.4), and returns how many frames were actually transmitted.
// When rate-limited and not yet due, it is a no-op returning 0.
func (p *pauseEmitter) EmitBurst() int {
	if p.limiter != nil && !p.limiter.Allow() {
		return 0
	}
	sent := p.tx.TransmitBurst(p.burst)
	for i := 0; i < sent; i++ {
		p.burst[i] = cloneFrame(p.template)
	}
	return sent
}
