// Command rayworker runs a single distributed ray-tracing worker, per
// SPEC_FULL.md §L.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gordian-engine/rayworker"
	"github.com/gordian-engine/rayworker/clock"
	"github.com/gordian-engine/rayworker/control"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/storage"
	"github.com/gordian-engine/rayworker/wire"
)

func main() {
	app := &cli.App{
		Name:  "rayworker",
		Usage: "run one worker of a distributed ray-tracing job",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ip", Value: "0.0.0.0", Usage: "local bind address for the ray-path interface"},
			&cli.IntFlag{Name: "port", Value: 9000, Usage: "local UDP port for the ray-path interface"},
			&cli.StringFlag{Name: "coordinator", Required: true, Usage: "coordinator TCP address, host:port"},
			&cli.StringFlag{Name: "storage-backend", Required: true, Usage: "storage backend URI (file://...; other schemes are rejected)"},
			&cli.BoolFlag{Name: "reliable-udp", Value: true, Usage: "send ray packets reliably"},
			&cli.Uint64Flag{Name: "max-udp-rate", Value: 500, Usage: "per-interface UDP rate cap, megabits/second"},
			&cli.IntFlag{Name: "samples", Value: 16, Usage: "samples per pixel for locally generated camera rays"},
			&cli.Float64Flag{Name: "log-rays", Value: 0, Usage: "fraction of rays to log, [0,1]"},
			&cli.Float64Flag{Name: "log-packets", Value: 0, Usage: "fraction of packets to log, [0,1]"},
			&cli.IntFlag{Name: "finished-ray", Value: 0, Usage: "finished-ray disposal policy: 0=discard, 1=send-back, 2=upload"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("rayworker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	policy, err := rayworker.ParseFinishedPolicy(c.Int("finished-ray"))
	if err != nil {
		return err
	}

	cfg := rayworker.Config{
		IP:                c.String("ip"),
		Port:              c.Int("port"),
		StorageBackendURI: c.String("storage-backend"),
		SendReliably:      c.Bool("reliable-udp"),
		MaxUDPRateMbps:    c.Uint64("max-udp-rate"),
		SamplesPerPixel:   c.Int("samples"),
		RayLogRate:        c.Float64("log-rays"),
		PacketLogRate:     c.Float64("log-packets"),
		FinishedPolicy:    policy,
	}
	if err := cfg.Validate(); err != nil {
		_ = cli.ShowAppHelp(c)
		return err
	}

	addr0, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.IP, cfg.Port))
	if err != nil {
		return fmt.Errorf("rayworker: resolve interface 0 address: %w", err)
	}
	addr1, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.IP, cfg.Port+1))
	if err != nil {
		return fmt.Errorf("rayworker: resolve interface 1 address: %w", err)
	}

	coordinatorConn, err := net.Dial("tcp", c.String("coordinator"))
	if err != nil {
		return fmt.Errorf("rayworker: dial coordinator: %w", err)
	}
	defer coordinatorConn.Close()

	backend, err := storage.Open(cfg.StorageBackendURI)
	if err != nil {
		return fmt.Errorf("rayworker: open storage backend: %w", err)
	}

	scene := &stubScene{}

	log := slog.Default()

	w, err := rayworker.NewWorker(
		log, clock.System{}, cfg, 0, addr0, addr1,
		[2]*net.UDPAddr{nil, nil}, coordinatorConn,
		backend, scene, scene, scene, scene, scene,
	)
	if err != nil {
		return fmt.Errorf("rayworker: construct worker: %w", err)
	}

	if err := sendHey(coordinatorConn); err != nil {
		return fmt.Errorf("rayworker: send Hey: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return waitForSignal(ctx, coordinatorConn) })

	return g.Wait()
}

// sendHey introduces the worker to the coordinator, per spec.md §4.7,
// forwarding the Lambda log stream name when running under AWS Lambda so
// the coordinator can correlate worker logs.
func sendHey(conn net.Conn) error {
	payload := control.EncodeHey(control.HeyPayload{
		LogStreamName: os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"),
	})
	frame, err := wire.Encode(wire.Message{Opcode: wire.OpHey, Payload: payload})
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// waitForSignal sends Bye to the coordinator on SIGINT/SIGTERM and then
// returns nil. It does not cancel ctx: the reactor keeps running until it
// receives Bye itself or ctx is cancelled.
func waitForSignal(ctx context.Context, conn net.Conn) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sigCh:
		frame, err := wire.Encode(wire.Message{Opcode: wire.OpBye})
		if err == nil {
			_, _ = conn.Write(frame)
		}
		return nil
	}
}

// stubScene is the real BVH/shading engine's placeholder: that engine is
// explicitly out of scope (spec.md §1, §9) and supplied by a real
// deployment's tracer package, not this module. It satisfies
// ray.SceneLoader/ray.Tracer/ray.BVH/ray.Lights/ray.Sampler just enough to
// let the reactor run and complete every ray's traversal on its first step.
type stubScene struct{}

func (s *stubScene) Init(objects map[string][]byte) error { return nil }

func (s *stubScene) Trace(r *ray.State, bvh ray.BVH) (*ray.State, error) {
	r.ToVisit = nil
	r.Hit = true
	return r, nil
}

func (s *stubScene) Shade(r *ray.State, bvh ray.BVH, lights ray.Lights, sampler ray.Sampler) ([]*ray.State, bool, error) {
	return nil, true, nil
}
