// Package bench implements the benchmark mode of spec.md §4.9: a fixed-size
// Ping blaster on one interface, a receive tally on the other, and periodic
// checkpoint logging via log/slog, matching the teacher's own diagnostics
// style.
package bench

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gordian-engine/rayworker/clock"
	"github.com/gordian-engine/rayworker/pacing"
	"github.com/gordian-engine/rayworker/reactor"
	"github.com/gordian-engine/rayworker/wire"
)

// pingSize is PING payload size fixed by spec.md §4.9.
const pingSize = 1300

// Checkpoint is one second-granularity snapshot of the running counters.
type Checkpoint struct {
	At               time.Time
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsReceived  uint64
}

// Runner drives one benchmark run: it swaps the reactor's normal action
// table for a send blaster and a receive tally, restoring the normal table
// when the run ends.
type Runner struct {
	log *slog.Logger
	clk clock.Clock
	rx  *reactor.Reactor

	normalActions []reactor.Action

	packetsSent     uint64
	packetsReceived uint64

	checkpoints []Checkpoint

	senderID uint64
}

// NewRunner returns a Runner bound to rx, the worker's shared reactor.
func NewRunner(log *slog.Logger, clk clock.Clock, rx *reactor.Reactor, senderID uint64) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log, clk: clk, rx: rx, senderID: senderID}
}

// Start installs the benchmark action set, saving the reactor's current
// (normal) actions to restore on Stop.
func (r *Runner) Start(
	sendCh, recvCh *pacing.Channel,
	dest *net.UDPAddr,
	duration time.Duration,
	rateMbps uint32,
	addressNo uint8,
) {
	r.normalActions = r.rx.Actions()
	r.packetsSent = 0
	r.packetsReceived = 0
	r.checkpoints = nil

	if rateMbps > 0 {
		recvCh.SetRate(uint64(rateMbps))
	}

	payload := make([]byte, pingSize)

	sendAction := reactor.Action{
		Name:      "BenchSend",
		Predicate: func() bool { return sendCh.WithinPace() },
		Handle: func(ctx context.Context) error {
			m := wire.Message{SenderID: r.senderID, Opcode: wire.OpPing}
			frame, err := wire.Encode(m)
			if err != nil {
				return err
			}
			copy(payload, frame)
			if _, err := sendCh.Send(dest, payload); err != nil {
				return err
			}
			r.packetsSent++
			return nil
		},
	}

	recvAction := reactor.Action{
		Name: "BenchRecv",
		Handle: func(ctx context.Context) error {
			if _, _, err := recvCh.Recv(); err != nil {
				return err
			}
			r.packetsReceived++
			return nil
		},
	}

	checkpointTicker := r.clk.NewTicker(time.Second)
	checkpointAction := reactor.Action{
		Name:  "BenchCheckpoint",
		Ready: reactor.FromTicker(checkpointTicker),
		Handle: func(ctx context.Context) error {
			cp := Checkpoint{
				At:              r.clk.Now(),
				BytesSent:       sendCh.BytesSent(),
				BytesReceived:   recvCh.BytesReceived(),
				PacketsSent:     r.packetsSent,
				PacketsReceived: r.packetsReceived,
			}
			r.checkpoints = append(r.checkpoints, cp)
			r.log.Info("benchmark checkpoint",
				"bytes_sent", cp.BytesSent,
				"bytes_received", cp.BytesReceived,
				"packets_sent", cp.PacketsSent,
				"packets_received", cp.PacketsReceived,
			)
			return nil
		},
	}

	durationTimer := r.clk.NewTicker(duration)
	stopAction := reactor.Action{
		Name:  "BenchStop",
		Ready: reactor.FromTicker(durationTimer),
		Handle: func(ctx context.Context) error {
			durationTimer.Stop()
			checkpointTicker.Stop()
			r.Stop(sendCh, recvCh)
			return nil
		},
	}

	r.rx.SetActions([]reactor.Action{sendAction, recvAction, checkpointAction, stopAction})
}

// Stop restores the reactor's pre-benchmark action set and logs the final
// totals line.
func (r *Runner) Stop(sendCh, recvCh *pacing.Channel) {
	r.log.Info("benchmark complete",
		"bytes_sent", sendCh.BytesSent(),
		"bytes_received", recvCh.BytesReceived(),
		"packets_sent", r.packetsSent,
		"packets_received", r.packetsReceived,
		"checkpoints", len(r.checkpoints),
	)
	r.rx.SetActions(r.normalActions)
}

// Checkpoints returns the per-second snapshots recorded since the last
// Start.
func (r *Runner) Checkpoints() []Checkpoint { return r.checkpoints }
