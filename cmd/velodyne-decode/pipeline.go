package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/velodyne/internal/config"
	"github.com/banshee-data/velodyne/internal/lidar"
	"github.com/banshee-data/velodyne/internal/lidar/network"
	"github.com/banshee-data/velodyne/internal/lidar/turns"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
	"github.com/banshee-data/velodyne/internal/timeutil"
	"golang.org/x/sync/errgroup"
)

// packetQueueSize bounds the datagrams buffered between the source and the
// decode workers. A full queue applies backpressure to pcap replay; a live
// listener keeps reading and the kernel buffer absorbs the burst.
const packetQueueSize = 4096

// settings is the merged result of flags, config file and defaults.
type settings struct {
	model         velodyne.Model
	calibration   string
	policy        velodyne.DualPolicy
	strictFactory bool
	listen        string
	rcvBuf        int
	forward       string
	speed         float64
	workers       int
	splitAzimuth  uint16
	statsInterval time.Duration
	pose          *lidar.Pose
}

func resolveSettings(cfg Config) (settings, error) {
	dcfg := &config.DecoderConfig{}
	if cfg.ConfigFile != "" {
		loaded, err := config.LoadDecoderConfig(cfg.ConfigFile)
		if err != nil {
			return settings{}, err
		}
		dcfg = loaded
	}
	dcfg.ApplyEnv(os.LookupEnv)
	if err := dcfg.Validate(); err != nil {
		return settings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	s := settings{
		model:         dcfg.GetModel(),
		calibration:   dcfg.GetCalibrationFile(),
		policy:        dcfg.GetDualPolicy(),
		strictFactory: dcfg.GetStrictFactory(),
		listen:        dcfg.GetListenAddress(),
		rcvBuf:        dcfg.GetRcvBuf(),
		forward:       dcfg.GetForwardAddress(),
		speed:         dcfg.GetReplaySpeed(),
		workers:       dcfg.GetWorkers(),
		splitAzimuth:  dcfg.GetSplitAzimuth(),
		statsInterval: dcfg.GetStatsInterval(),
	}
	if dcfg.HasPose() {
		pose := dcfg.GetPose()
		s.pose = &pose
	}

	if cfg.isSet("model") {
		m, err := velodyne.ParseModel(cfg.Model)
		if err != nil {
			return settings{}, err
		}
		s.model = m
	}
	if cfg.isSet("calibration") {
		s.calibration = cfg.Calibration
	}
	if cfg.isSet("duplicate-dual") {
		s.policy = velodyne.CollapseIdentical
		if cfg.DuplicateDual {
			s.policy = velodyne.DuplicateIdentical
		}
	}
	if cfg.isSet("strict") {
		s.strictFactory = cfg.StrictFactory
	}
	if cfg.isSet("listen") {
		s.listen = cfg.Listen
	} else if cfg.isSet("port") {
		s.listen = fmt.Sprintf(":%d", cfg.Port)
	}
	if cfg.isSet("forward") {
		s.forward = cfg.Forward
	}
	if cfg.isSet("speed") {
		s.speed = cfg.Speed
	}
	if cfg.isSet("workers") {
		s.workers = cfg.Workers
	}
	return s, nil
}

func (s settings) decoderOptions() []velodyne.Option {
	opts := []velodyne.Option{
		velodyne.WithDualPolicy(s.policy),
		velodyne.WithStrictFactory(s.strictFactory),
	}
	if s.calibration != "" {
		opts = append(opts, velodyne.WithCalibrationFile(s.calibration))
	}
	return opts
}

// packetSource feeds datagrams to handler until it is exhausted or ctx ends.
type packetSource func(ctx context.Context, handler network.PacketHandler) error

func newSource(cfg Config, s settings, stats network.PacketStatsInterface, fwd *network.PacketForwarder) packetSource {
	if cfg.PCAPFile != "" {
		pcfg := network.PCAPConfig{
			Port:       cfg.Port,
			PacketSize: velodyne.PACKET_SIZE,
			Speed:      s.speed,
			Stats:      stats,
			Forwarder:  fwd,
		}
		return func(ctx context.Context, handler network.PacketHandler) error {
			log.Printf("Replaying %s (port %d)", cfg.PCAPFile, cfg.Port)
			return network.ReadPCAPFile(ctx, cfg.PCAPFile, pcfg, handler)
		}
	}

	return func(ctx context.Context, handler network.PacketHandler) error {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     s.listen,
			RcvBuf:      s.rcvBuf,
			PacketSize:  velodyne.PACKET_SIZE,
			LogInterval: s.statsInterval,
			Stats:       stats,
			Forwarder:   fwd,
			Handler:     handler,
		})
		log.Printf("Listening for %v packets on %s", s.model, s.listen)
		return listener.Start(ctx)
	}
}

// run decodes every packet from the configured source and writes the points
// to out in the requested format.
func run(ctx context.Context, cfg Config, out io.Writer) error {
	s, err := resolveSettings(cfg)
	if err != nil {
		return err
	}

	dec, err := velodyne.New(s.model, s.decoderOptions()...)
	if err != nil {
		return err
	}
	log.Printf("Decoder ready: model=%v channels=%d dual=%v strict=%v",
		dec.Model(), dec.Calibration().Len(), dec.DualPolicy(), s.strictFactory)

	stats := network.NewPacketStats(timeutil.RealClock{})

	var fwd *network.PacketForwarder
	if s.forward != "" {
		fwd, err = network.NewPacketForwarder(s.forward, stats, s.statsInterval)
		if err != nil {
			return err
		}
		defer fwd.Close()
	}

	sink := newSink(cfg, s, dec, out)
	proc := newProcessor(s, stats, sink)
	source := newSource(cfg, s, stats, fwd)

	packets := make(chan velodyne.RawPacket, packetQueueSize)
	// gctx ends only when a stage fails, so a signal still lets the workers
	// drain the queue. The source stops on either.
	g, gctx := errgroup.WithContext(context.Background())
	srcCtx, cancelSrc := context.WithCancel(ctx)
	defer cancelSrc()
	stop := context.AfterFunc(gctx, cancelSrc)
	defer stop()

	g.Go(func() error {
		defer close(packets)
		err := source(srcCtx, func(dg network.Datagram) error {
			select {
			case packets <- velodyne.RawPacket{Seq: dg.Seq, Data: dg.Data, CaptureTime: dg.Timestamp}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		// A signal ends a live capture normally; the queued packets are still
		// decoded and written.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Printf("Stopping: %v", context.Cause(ctx))
			return nil
		}
		return err
	})

	consume, flush := velodyne.Reorder(0, proc.handle)
	g.Go(func() error {
		if err := velodyne.DecodeParallel(gctx, dec, packets, s.workers, consume); err != nil {
			return err
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := proc.finish(); err != nil {
		return err
	}
	stats.LogStats()
	return sink.Close()
}

// processor applies the stream-level stages to results in sequence order:
// pose transform, turn assembly, stats and output.
type processor struct {
	pose      *lidar.Pose
	assembler *turns.Assembler
	stats     network.PacketStatsInterface
	sink      sink
	turn      int
}

func newProcessor(s settings, stats network.PacketStatsInterface, out sink) *processor {
	return &processor{
		pose:      s.pose,
		assembler: turns.NewAssembler(s.splitAzimuth),
		stats:     stats,
		sink:      out,
	}
}

func (p *processor) handle(res velodyne.Result) error {
	if res.Err != nil {
		p.stats.AddInvalid()
		return p.sink.Rejected(res)
	}

	if p.pose != nil {
		p.pose.TransformPoints(res.Points)
	}
	p.stats.AddPoints(len(res.Points))

	if turn, ok := p.assembler.Add(res.Meta, res.Points); ok {
		if err := p.sink.Turn(p.turn, turn); err != nil {
			return err
		}
		p.turn++
	}
	return p.sink.Packet(p.turn, res)
}

func (p *processor) finish() error {
	if turn, ok := p.assembler.Flush(); ok {
		if err := p.sink.Turn(p.turn, turn); err != nil {
			return err
		}
		p.turn++
	}
	return nil
}
