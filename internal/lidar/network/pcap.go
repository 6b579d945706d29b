package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/velodyne/internal/timeutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

// PCAPConfig controls capture replay.
type PCAPConfig struct {
	// Port filters UDP datagrams by source or destination port, like the
	// "udp port N" BPF expression. 0 accepts every UDP datagram.
	Port int

	// PacketSize is the expected payload size; other sizes are counted
	// invalid and skipped. 0 accepts all.
	PacketSize int

	// Speed paces replay against capture timestamps (1.0 = real-time,
	// 2.0 = twice as fast). 0 replays as fast as possible.
	Speed float64

	Clock     timeutil.Clock
	Stats     PacketStatsInterface
	Forwarder *PacketForwarder
}

// packetDataSource is implemented by both pcapgo.Reader and pcapgo.NgReader.
type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadPCAPFile replays the UDP payloads in a pcap or pcapng file.
func ReadPCAPFile(ctx context.Context, path string, cfg PCAPConfig, handler PacketHandler) error {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", cleanPath, err)
	}
	defer f.Close()

	if err := ReadPCAP(ctx, f, cfg, handler); err != nil {
		return fmt.Errorf("%s: %w", cleanPath, err)
	}
	return nil
}

// ReadPCAP replays the UDP payloads of a capture stream, passing each to
// handler with its capture timestamp. It returns nil at the end of the
// capture, including a capture truncated mid-record.
func ReadPCAP(ctx context.Context, r io.Reader, cfg PCAPConfig, handler PacketHandler) error {
	src, err := openCapture(r)
	if err != nil {
		return err
	}
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Forwarder != nil {
		cfg.Forwarder.Start(ctx)
	}

	diagf("PCAP replay: link type %v, port %d, speed %.1fx", src.LinkType(), cfg.Port, cfg.Speed)

	var (
		seq         uint64
		records     int
		lastCapture time.Time
		startTime   = cfg.Clock.Now()
	)
	for {
		select {
		case <-ctx.Done():
			diagf("PCAP replay stopping due to context cancellation (processed %d records)", records)
			return ctx.Err()
		default:
		}

		data, ci, err := src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				diagf("PCAP replay complete: %d records, %d datagrams in %v", records, seq, cfg.Clock.Since(startTime))
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				opsf("PCAP capture truncated after %d records", records)
				return nil
			}
			return fmt.Errorf("failed to read PCAP record %d: %w", records, err)
		}
		records++

		if cfg.Speed > 0 {
			if !lastCapture.IsZero() {
				if delay := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / cfg.Speed); delay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-cfg.Clock.After(delay):
					}
				}
			}
			lastCapture = ci.Timestamp
		}

		payload, ok := udpPayload(data, src.LinkType(), cfg.Port)
		if !ok {
			continue
		}

		cfg.Stats.AddPacket(len(payload))
		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(payload)
		}
		if cfg.PacketSize > 0 && len(payload) != cfg.PacketSize {
			cfg.Stats.AddInvalid()
			tracef("PCAP record %d: skipping %d byte payload (want %d)", records, len(payload), cfg.PacketSize)
			continue
		}

		if handler != nil {
			if err := handler(Datagram{Seq: seq, Data: payload, Timestamp: ci.Timestamp}); err != nil {
				return err
			}
		}
		seq++

		if records%10000 == 0 {
			tracef("PCAP progress: %d records, %d datagrams", records, seq)
		}
	}
}

// openCapture sniffs the stream header and returns a pcap or pcapng reader.
func openCapture(r io.Reader) (packetDataSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng stream: %w", err)
		}
		return ng, nil
	}

	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap stream: %w", err)
	}
	return rd, nil
}

// udpPayload decodes one link-layer frame and returns its UDP payload when
// the datagram matches port.
func udpPayload(data []byte, link layers.LinkType, port int) ([]byte, bool) {
	packet := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if port != 0 && int(udp.DstPort) != port && int(udp.SrcPort) != port {
		return nil, false
	}
	return udp.Payload, true
}
