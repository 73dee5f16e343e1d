package rayworker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/gordian-engine/rayworker/bench"
	"github.com/gordian-engine/rayworker/clock"
	"github.com/gordian-engine/rayworker/control"
	"github.com/gordian-engine/rayworker/pacing"
	"github.com/gordian-engine/rayworker/peer"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
	"github.com/gordian-engine/rayworker/reactor"
	"github.com/gordian-engine/rayworker/rerrors"
	"github.com/gordian-engine/rayworker/transport"
	"github.com/gordian-engine/rayworker/wire"
)

// outQueueInterval and the timer-driven action periods below are the
// concrete bindings of spec.md §4.8's "10-ms timer" and unnamed peer/ack/
// stats/diagnostics timers. ackTimerInterval is kept faster than
// transport.PacketTimeout so retransmission deadlines are observed
// promptly; one second is the original's convention for the remaining
// three (shared with peer.KeepAliveInterval).
const (
	outQueueInterval   = 10 * time.Millisecond
	peerTimerInterval  = time.Second
	ackTimerInterval   = 50 * time.Millisecond
	statsTimerInterval = time.Second
	diagTimerInterval  = time.Second
)

// Worker is the top-level runtime object wiring every package in
// SPEC_FULL.md §A-K into the single-threaded reactor of §J.
type Worker struct {
	log *slog.Logger
	clk clock.Clock
	cfg Config

	id uint64

	udp [2]*pacing.Channel

	queues          *rayqueue.Queues
	owned           map[ray.TreeletID]struct{}
	treeletToWorker map[ray.TreeletID][]uint64

	tracer  ray.Tracer
	bvh     ray.BVH
	lights  ray.Lights
	sampler ray.Sampler

	peers *peer.Table

	assembler   *transport.Assembler
	sender      *transport.Sender
	ackHandler  *transport.AckHandler
	seq         *transport.SequenceSpace
	outstanding *transport.OutstandingQueue
	received    *transport.ReceivedSet
	receivedAcks *transport.ReceivedAcks
	stats       *transport.Stats

	handler *control.Handler
	bench   *bench.Runner

	rx *reactor.Reactor

	coordinatorConn net.Conn
	tcpMessages     *wire.StreamParser
	tcpReady        chan struct{}
	udpInbound      [2]chan udpDatagram

	svcOut [2][]*transport.ServicePacket
	rayOut []*transport.RayPacket

	deferredUDP [2][]udpDatagram
}

type udpDatagram struct {
	src *net.UDPAddr
	msg wire.Message
}

// NewWorker constructs a Worker from validated configuration. addr0/addr1
// are the local bind addresses for the ray-path and control interfaces
// (spec.md §4.1); coordinatorAddr is peer 0's dual address.
func NewWorker(
	log *slog.Logger,
	clk clock.Clock,
	cfg Config,
	id uint64,
	addr0, addr1 *net.UDPAddr,
	coordinatorAddr [2]*net.UDPAddr,
	coordinatorConn net.Conn,
	storage ray.StorageBackend,
	scene ray.SceneLoader,
	tracer ray.Tracer,
	bvh ray.BVH,
	lights ray.Lights,
	sampler ray.Sampler,
) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}

	ch0, err := pacing.New(0, addr0, cfg.MaxUDPRateMbps)
	if err != nil {
		return nil, fmt.Errorf("rayworker: open interface 0: %w", err)
	}
	ch1, err := pacing.New(1, addr1, cfg.MaxUDPRateMbps)
	if err != nil {
		return nil, fmt.Errorf("rayworker: open interface 1: %w", err)
	}

	w := &Worker{
		log:             log,
		clk:             clk,
		cfg:             cfg,
		id:              id,
		udp:             [2]*pacing.Channel{ch0, ch1},
		queues:          rayqueue.New(),
		owned:           map[ray.TreeletID]struct{}{0: {}},
		treeletToWorker: make(map[ray.TreeletID][]uint64),
		tracer:          tracer,
		bvh:             bvh,
		lights:          lights,
		sampler:         sampler,
		peers:           peer.New(id, rand.Uint32()),
		assembler:       transport.NewAssembler(rand.New(rand.NewSource(time.Now().UnixNano())), cfg.PacketLogRate),
		ackHandler:      transport.NewAckHandler(id),
		seq:             transport.NewSequenceSpace(),
		outstanding:     transport.NewOutstandingQueue(),
		received:        transport.NewReceivedSet(),
		receivedAcks:    transport.NewReceivedAcks(),
		stats:           &transport.Stats{},
		rx:              reactor.New(log),
		coordinatorConn: coordinatorConn,
		tcpMessages:     &wire.StreamParser{},
		tcpReady:        make(chan struct{}, 256),
		udpInbound:      [2]chan udpDatagram{make(chan udpDatagram, 256), make(chan udpDatagram, 256)},
	}

	w.sender = transport.NewSender(id, w.stats)
	w.bench = bench.NewRunner(log, clk, w.rx, id)
	w.handler = control.NewHandler(id, coordinatorAddr, w.peers, w.queues, w.owned, w.treeletToWorker,
		storage, scene, &benchStarterAdapter{w: w})

	return w, nil
}

// benchStarterAdapter satisfies control.BenchmarkStarter by resolving the
// destination worker id to its pacing channels/address through the peer
// table the control package never imports directly.
type benchStarterAdapter struct {
	w *Worker
}

func (a *benchStarterAdapter) Start(dest uint64, duration time.Duration, rateMbps uint32, addressNo uint8) {
	p, ok := a.w.peers.Get(dest)
	if !ok || addressNo > 1 {
		a.w.log.Warn("StartBenchmark: unknown destination or interface", "dest", dest, "address_no", addressNo)
		return
	}
	other := uint8(0)
	if addressNo == 0 {
		other = 1
	}
	a.w.bench.Start(a.w.udp[addressNo], a.w.udp[other], p.Addr[addressNo], duration, rateMbps, addressNo)
}

// Run registers every action from spec.md §4.8's table and drives the
// reactor until Bye is received or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.registerActions()
	return w.rx.Run(ctx, w.paceTimeout, func() bool { return w.handler.Terminated() })
}

// paceTimeout implements spec.md §4.8's "min over both UDP channels of
// microseconds-until-within-pace" rule.
func (w *Worker) paceTimeout() time.Duration {
	best := int64(-1)
	for _, ch := range w.udp {
		us := ch.MicrosAheadOfPace()
		if us < 0 {
			continue
		}
		if best < 0 || us < best {
			best = us
		}
	}
	if best < 0 {
		return -1
	}
	return time.Duration(best) * time.Microsecond
}

func (w *Worker) registerActions() {
	for iface := 0; iface < 2; iface++ {
		iface := iface
		w.rx.Register(reactor.Action{
			Name:  fmt.Sprintf("UdpReceive%d", iface),
			Ready: w.udpReadyChan(iface),
			Handle: func(ctx context.Context) error { return w.handleUDPReceive(iface) },
		})
	}

	w.rx.Register(reactor.Action{
		Name:      "UdpSend0",
		Predicate: func() bool { return (len(w.svcOut[0]) > 0 || len(w.rayOut) > 0) && w.udp[0].WithinPace() },
		Handle:    func(ctx context.Context) error { return w.handleUDPSend(0) },
	})
	w.rx.Register(reactor.Action{
		Name:      "UdpSend1",
		Predicate: func() bool { return len(w.svcOut[1]) > 0 && w.udp[1].WithinPace() },
		Handle:    func(ctx context.Context) error { return w.handleUDPSend(1) },
	})

	w.rx.Register(reactor.Action{
		Name:      "RayQueue",
		Predicate: func() bool { return len(w.queues.Ray) > 0 },
		Handle:    func(ctx context.Context) error { return w.handleRayQueue() },
	})

	outTicker := w.clk.NewTicker(outQueueInterval)
	w.rx.Register(reactor.Action{
		Name:      "OutQueue",
		Ready:     reactor.FromTicker(outTicker),
		Predicate: func() bool { return w.queues.OutSize > 0 },
		Handle:    func(ctx context.Context) error { return w.handleOutQueue() },
	})

	w.rx.Register(reactor.Action{
		Name:      "FinishedQueue",
		Predicate: w.finishedQueueEligible,
		Handle:    func(ctx context.Context) error { return w.handleFinishedQueue() },
	})

	peerTicker := w.clk.NewTicker(peerTimerInterval)
	w.rx.Register(reactor.Action{
		Name:      "Peers",
		Ready:     reactor.FromTicker(peerTicker),
		Predicate: func() bool { return !w.peers.Empty() },
		Handle:    func(ctx context.Context) error { return w.handlePeerTick() },
	})

	ackTicker := w.clk.NewTicker(ackTimerInterval)
	w.rx.Register(reactor.Action{
		Name:  "RayAcks",
		Ready: reactor.FromTicker(ackTicker),
		Predicate: func() bool {
			return !w.ackHandler.Empty() || !w.outstanding.Empty()
		},
		Handle: func(ctx context.Context) error { return w.handleRayAcks() },
	})

	statsTicker := w.clk.NewTicker(statsTimerInterval)
	w.rx.Register(reactor.Action{
		Name:   "WorkerStats",
		Ready:  reactor.FromTicker(statsTicker),
		Handle: func(ctx context.Context) error { return w.handleWorkerStats() },
	})

	diagTicker := w.clk.NewTicker(diagTimerInterval)
	w.rx.Register(reactor.Action{
		Name:   "Diagnostics",
		Ready:  reactor.FromTicker(diagTicker),
		Handle: func(ctx context.Context) error { return w.handleDiagnostics() },
	})

	if w.coordinatorConn != nil {
		go w.readCoordinatorStream()
		w.rx.Register(reactor.Action{
			Name:      "Messages",
			Ready:     w.tcpReady,
			Predicate: func() bool { return !w.tcpMessages.Empty() },
			Handle:    func(ctx context.Context) error { return w.handleMessages() },
		})
	}
}

// readCoordinatorStream feeds the TCP stream parser from the coordinator
// connection, signaling readiness each time it has more bytes -- the same
// forwarding-goroutine translation of "fd readable" used by udpReadyChan.
func (w *Worker) readCoordinatorStream() {
	buf := make([]byte, 4096)
	for {
		n, err := w.coordinatorConn.Read(buf)
		if n > 0 {
			w.tcpMessages.Feed(buf[:n])
			select {
			case w.tcpReady <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) handleMessages() error {
	m, ok := w.tcpMessages.Pop()
	if !ok {
		return nil
	}
	return w.dispatchTCPMessage(m)
}

func (w *Worker) writeTCP(m wire.Message) error {
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	_, err = w.coordinatorConn.Write(b)
	return err
}

// dispatchTCPMessage implements spec.md §4.7's control-plane switch for
// messages the coordinator sends over the TCP control channel.
func (w *Worker) dispatchTCPMessage(m wire.Message) error {
	switch m.Opcode {
	case wire.OpHey:
		workerID, jobID, requests, err := w.handler.HandleHey(m.Payload)
		if err != nil {
			return err
		}
		// The worker id is fixed at deployment/construction time (CLI flag
		// or scheduler-assigned bind address) rather than reassigned from
		// the HeyReply, since peer.Table/control.Handler/transport.Sender
		// all bind ownerID at construction; HeyReply's ids are logged for
		// correlation against the coordinator's job bookkeeping.
		w.log.Info("received HeyReply", "worker_id", workerID, "job_id", jobID)
		for _, r := range requests {
			w.svcOut[r.Iface] = append(w.svcOut[r.Iface], &transport.ServicePacket{
				Dest: r.Dest, Iface: r.Iface, Opcode: r.Opcode, Payload: r.Payload,
			})
		}
		return nil

	case wire.OpGetObjects:
		_, err := w.handler.HandleGetObjects(m.Payload)
		return err

	case wire.OpGenerateRays:
		_, err := w.handler.HandleGenerateRays(m.Payload)
		return err

	case wire.OpConnectTo:
		_, err := w.handler.HandleConnectTo(m.Payload)
		return err

	case wire.OpMultipleConnect:
		_, err := w.handler.HandleMultipleConnect(m.Payload)
		return err

	case wire.OpStartBenchmark:
		return w.handler.HandleStartBenchmark(m.Payload)

	case wire.OpGetWorker:
		stats := w.handler.HandleGetWorker(
			[2]uint64{w.udp[0].BytesSent(), w.udp[1].BytesSent()},
			[2]uint64{w.udp[0].BytesReceived(), w.udp[1].BytesReceived()},
		)
		return w.writeTCP(wire.Message{SenderID: w.id, Opcode: wire.OpWorkerStats, Payload: control.EncodeWorkerStats(stats)})

	case wire.OpBye:
		w.handler.HandleBye()
		return nil

	default:
		w.log.Warn("dispatchTCPMessage: unexpected opcode on coordinator path", "opcode", m.Opcode.String())
		return nil
	}
}

// udpReadyChan spins a single forwarding goroutine per interface that
// blocks on Recv and republishes decoded messages, since Go exposes no
// portable raw-readiness channel for a UDP socket the way the reactor's
// origin environment's poll(2) loop does (SPEC_FULL.md §J.1).
func (w *Worker) udpReadyChan(iface int) <-chan struct{} {
	ready := make(chan struct{}, 256)
	go func() {
		for {
			src, b, err := w.udp[iface].Recv()
			if err != nil {
				return
			}
			m, _, err := wire.Decode(b)
			if err != nil {
				continue
			}
			w.udpInbound[iface] <- udpDatagram{src: src, msg: m}
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}()
	return ready
}

// handleUDPReceive drains one message per call: a previously-deferred
// message takes priority over a fresh datagram, so a message that could
// not be handled last pass (spec.md §4.3/§7's Deferred outcome, e.g. a
// ConnectionRequest from a peer this worker has not yet announced) gets
// exactly one more try before a new message is pulled off the socket.
func (w *Worker) handleUDPReceive(iface int) error {
	if len(w.deferredUDP[iface]) > 0 {
		d := w.deferredUDP[iface][0]
		w.deferredUDP[iface] = w.deferredUDP[iface][1:]
		return w.dispatchOrDefer(d, iface)
	}

	select {
	case d := <-w.udpInbound[iface]:
		forward, _ := w.ackHandler.HandleUDPReceive(d.src, d.msg, w.received, w.receivedAcks)
		if !forward {
			return nil
		}
		return w.dispatchOrDefer(d, iface)
	default:
		return nil
	}
}

// dispatchOrDefer runs dispatchMessage and, on rerrors.DeferredError,
// re-queues d for the next pass instead of discarding it (spec.md §4.3/§7).
func (w *Worker) dispatchOrDefer(d udpDatagram, iface int) error {
	err := w.dispatchMessage(d.src, iface, d.msg)
	if _, deferred := err.(rerrors.DeferredError); deferred {
		w.deferredUDP[iface] = append(w.deferredUDP[iface], d)
		return nil
	}
	return err
}

func (w *Worker) handleUDPSend(iface int) error {
	_, err := w.sender.HandleUDPSend(iface, w.udp[iface], &w.svcOut[iface], &w.rayOut, w.outstanding, w.clk.Now())
	return err
}

func (w *Worker) handleRayQueue() error {
	return w.queues.HandleRayQueue(w.tracer, w.bvh, w.lights, w.sampler, w.owned, w.treeletToWorker)
}

func (w *Worker) handleOutQueue() error {
	resolve := func(id uint64) (*net.UDPAddr, bool) {
		p, ok := w.peers.Get(id)
		if !ok {
			return nil, false
		}
		return p.Addr[0], true
	}
	packets := w.assembler.HandleOutQueue(w.queues, w.treeletToWorker, resolve, w.seq, w.cfg.SendReliably)
	w.rayOut = append(w.rayOut, packets...)
	return nil
}

// finishedQueueEligible mirrors transport.HandleFinishedQueue's own
// watermark check so the Discard policy's action only fires once there is
// something to discard, rather than every call regardless of policy
// (spec.md §4.6.5/§4.8).
func (w *Worker) finishedQueueEligible() bool {
	if w.cfg.FinishedPolicy == transport.Discard {
		return len(w.queues.Finished) > transport.FinishedDiscardWatermark
	}
	return len(w.queues.Finished) > 0
}

func (w *Worker) handleFinishedQueue() error {
	entries := transport.HandleFinishedQueue(w.queues, w.cfg.FinishedPolicy)
	if len(entries) == 0 {
		return nil
	}
	if w.coordinatorConn == nil {
		return nil
	}

	payloadEntries := make([]control.FinishedRaysEntryPayload, len(entries))
	for i, e := range entries {
		payloadEntries[i] = control.FinishedRaysEntryPayload{
			SampleID: uint64(e.SampleID),
			PFilm:    e.PFilm,
			Weight:   e.Weight,
			L:        e.L,
		}
	}
	return w.writeTCP(wire.Message{
		SenderID: w.id,
		Opcode:   wire.OpFinishedRays,
		Payload:  control.EncodeFinishedRays(payloadEntries),
	})
}

func (w *Worker) handlePeerTick() error {
	out := w.peers.Tick(w.clk.Now())
	for _, o := range out {
		w.svcOut[o.Iface] = append(w.svcOut[o.Iface], &transport.ServicePacket{
			Dest: o.Dest, Iface: o.Iface, Opcode: o.Opcode, Payload: o.Payload,
		})
	}
	return nil
}

func (w *Worker) handleRayAcks() error {
	acks, requeued, err := w.ackHandler.HandleRayAcknowledgements(w.outstanding, w.receivedAcks, w.clk.Now())
	if err != nil {
		return err
	}
	w.svcOut[0] = append(w.svcOut[0], acks...)
	w.rayOut = append(w.rayOut, requeued...)
	return nil
}

// handleWorkerStats logs the periodic stats snapshot and, when a
// coordinator connection is present, also reports it over the control
// channel (SPEC_FULL.md §D), the same payload OpGetWorker returns on
// request.
func (w *Worker) handleWorkerStats() error {
	stats := w.handler.HandleGetWorker(
		[2]uint64{w.udp[0].BytesSent(), w.udp[1].BytesSent()},
		[2]uint64{w.udp[0].BytesReceived(), w.udp[1].BytesReceived()},
	)
	w.log.Info("worker stats",
		"ray_queue", stats.RayQueueSize,
		"out_queue", stats.OutQueueSize,
		"pending_queue", stats.PendingQueueSize,
		"finished_queue", stats.FinishedQueueSize,
	)
	if w.coordinatorConn == nil {
		return nil
	}
	return w.writeTCP(wire.Message{
		SenderID: w.id,
		Opcode:   wire.OpWorkerStats,
		Payload:  control.EncodeWorkerStats(stats),
	})
}

func (w *Worker) handleDiagnostics() error {
	w.log.Debug("diagnostics",
		"bytes_sent_0", w.udp[0].BytesSent(),
		"bytes_received_0", w.udp[0].BytesReceived(),
		"bytes_sent_1", w.udp[1].BytesSent(),
		"bytes_received_1", w.udp[1].BytesReceived(),
		"outstanding", w.outstanding.Len(),
	)
	return nil
}

// dispatchMessage implements spec.md §4.7's control-plane switch for
// messages forwarded off the UDP receive path (peer handshake/ping
// traffic; coordinator RPCs mostly arrive over TCP and are dispatched the
// same way by the caller that drains w.tcpMessages).
func (w *Worker) dispatchMessage(src *net.UDPAddr, iface int, m wire.Message) error {
	switch m.Opcode {
	case wire.OpPing:
		return nil

	case wire.OpConnectionRequest:
		out, err := w.handler.HandleConnectionRequest(src, iface, m.Payload)
		if err != nil {
			// dispatchOrDefer re-queues rerrors.DeferredError for the next
			// pass instead of discarding the datagram.
			return err
		}
		w.svcOut[out.Iface] = append(w.svcOut[out.Iface], &transport.ServicePacket{
			Dest: out.Dest, Iface: out.Iface, Opcode: out.Opcode, Payload: out.Payload,
		})
		return nil

	case wire.OpConnectionResponse:
		return w.handler.HandleConnectionResponse(m.Payload, w.clk.Now())

	case wire.OpSendRays:
		_, err := w.handler.HandleSendRays(m.Payload)
		return err

	case wire.OpBye:
		w.handler.HandleBye()
		return nil

	default:
		w.log.Warn("dispatchMessage: unexpected opcode on UDP path", "opcode", m.Opcode.String())
		return nil
	}
}

