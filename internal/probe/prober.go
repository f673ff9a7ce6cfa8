package probe

import (
	"context"
	"errors"
	"time"

	"github.com/go-ping/ping"
)

// ErrTimeout reports that no echo reply arrived within the probe timeout.
var ErrTimeout = errors.New("probe: echo timed out")

// Prober sends one echo request and reports the round trip time. Any error
// is treated by callers as an ordinary failed probe, never as fatal.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) (time.Duration, error)
}

// ICMPProber probes with a single ICMP echo per call.
type ICMPProber struct {
	// Privileged selects raw-socket ICMP instead of UDP ping. Required on
	// most Linux hosts unless ping_group_range is opened up.
	Privileged bool
}

func (p *ICMPProber) Probe(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	pinger, err := ping.NewPinger(address)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	var rtt time.Duration
	pinger.OnRecv = func(pkt *ping.Packet) {
		rtt = pkt.Rtt
	}

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return 0, ctx.Err()
	case err = <-done:
		if err != nil {
			return 0, err
		}
	}

	if pinger.Statistics().PacketsRecv == 0 {
		return 0, ErrTimeout
	}
	return rtt, nil
}
