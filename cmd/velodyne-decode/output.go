package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/velodyne/internal/lidar"
	"github.com/banshee-data/velodyne/internal/lidar/turns"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
)

// sink receives decode results in stream order.
type sink interface {
	Packet(turn int, res velodyne.Result) error
	Rejected(res velodyne.Result) error
	Turn(index int, t turns.Turn) error
	Close() error
}

func newSink(cfg Config, s settings, dec *velodyne.Decoder, out io.Writer) sink {
	switch cfg.Format {
	case formatJSON:
		return newJSONSink(out)
	case formatSummary:
		source := cfg.PCAPFile
		if source == "" {
			source = "udp://" + s.listen
		}
		return newSummarySink(out, dec, source)
	default:
		return newCSVSink(out)
	}
}

var csvHeader = []string{
	"packet", "turn", "block", "channel", "return",
	"timestamp_ns", "x", "y", "z",
	"distance_m", "azimuth_deg", "elevation_deg", "intensity",
}

// csvSink writes one row per point.
type csvSink struct {
	w           *csv.Writer
	wroteHeader bool
	row         []string
}

func newCSVSink(out io.Writer) *csvSink {
	return &csvSink{w: csv.NewWriter(out), row: make([]string, len(csvHeader))}
}

func (c *csvSink) Packet(turn int, res velodyne.Result) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}

	packet := strconv.FormatUint(res.Seq, 10)
	turnStr := strconv.Itoa(turn)
	for i := range res.Points {
		p := &res.Points[i]
		c.row[0] = packet
		c.row[1] = turnStr
		c.row[2] = strconv.Itoa(p.BlockID)
		c.row[3] = strconv.Itoa(p.Channel)
		c.row[4] = strconv.Itoa(p.ReturnIndex)
		c.row[5] = strconv.FormatInt(int64(p.Timestamp), 10)
		c.row[6] = strconv.FormatFloat(p.X, 'f', 4, 64)
		c.row[7] = strconv.FormatFloat(p.Y, 'f', 4, 64)
		c.row[8] = strconv.FormatFloat(p.Z, 'f', 4, 64)
		c.row[9] = strconv.FormatFloat(p.Distance, 'f', 3, 64)
		c.row[10] = strconv.FormatFloat(p.Azimuth, 'f', 3, 64)
		c.row[11] = strconv.FormatFloat(p.Elevation, 'f', 3, 64)
		c.row[12] = strconv.Itoa(int(p.Intensity))
		if err := c.w.Write(c.row); err != nil {
			return err
		}
	}
	return nil
}

func (c *csvSink) Rejected(velodyne.Result) error { return nil }

func (c *csvSink) Turn(int, turns.Turn) error { return nil }

func (c *csvSink) Close() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// pointRecord is the JSON form of one point.
type pointRecord struct {
	Packet      uint64     `json:"packet"`
	Turn        int        `json:"turn"`
	Block       int        `json:"block"`
	Channel     int        `json:"channel"`
	Return      int        `json:"return"`
	TimestampNs int64      `json:"timestamp_ns"`
	Time        *time.Time `json:"time,omitempty"`
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Z           float64    `json:"z"`
	Distance    float64    `json:"distance_m"`
	Azimuth     float64    `json:"azimuth_deg"`
	Elevation   float64    `json:"elevation_deg"`
	Intensity   uint8      `json:"intensity"`
}

func newPointRecord(seq uint64, turn int, p *lidar.Point, capture time.Time) pointRecord {
	rec := pointRecord{
		Packet:      seq,
		Turn:        turn,
		Block:       p.BlockID,
		Channel:     p.Channel,
		Return:      p.ReturnIndex,
		TimestampNs: int64(p.Timestamp),
		X:           p.X,
		Y:           p.Y,
		Z:           p.Z,
		Distance:    p.Distance,
		Azimuth:     p.Azimuth,
		Elevation:   p.Elevation,
		Intensity:   p.Intensity,
	}
	if !capture.IsZero() {
		t := p.Time(capture).UTC()
		rec.Time = &t
	}
	return rec
}

// jsonSink writes newline-delimited JSON, one point per line.
type jsonSink struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func newJSONSink(out io.Writer) *jsonSink {
	buf := bufio.NewWriter(out)
	return &jsonSink{buf: buf, enc: json.NewEncoder(buf)}
}

func (j *jsonSink) Packet(turn int, res velodyne.Result) error {
	for i := range res.Points {
		if err := j.enc.Encode(newPointRecord(res.Seq, turn, &res.Points[i], res.CaptureTime)); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonSink) Rejected(velodyne.Result) error { return nil }

func (j *jsonSink) Turn(int, turns.Turn) error { return nil }

func (j *jsonSink) Close() error { return j.buf.Flush() }
