// Command velodyne-decode converts Velodyne sensor packets, replayed from a
// capture file or received live over UDP, into calibrated points.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/velodyne/internal/lidar/network"
	"github.com/banshee-data/velodyne/internal/lidar/velodyne"
	"github.com/banshee-data/velodyne/internal/version"
	"gopkg.in/natefinch/lumberjack.v2"
)

const programName = "velodyne-decode"

// Output formats accepted by -format.
const (
	formatCSV     = "csv"
	formatJSON    = "json"
	formatSummary = "summary"
)

// Config holds the command-line options. Options left unset on the command
// line fall back to the JSON config file and then to built-in defaults.
type Config struct {
	ConfigFile    string
	Model         string
	Calibration   string
	PCAPFile      string
	Listen        string
	Port          int
	Forward       string
	Speed         float64
	Workers       int
	Format        string
	OutFile       string
	LogFile       string
	DuplicateDual bool
	StrictFactory bool
	Verbose       bool
	ShowVersion   bool

	// explicit records which flags were given on the command line.
	explicit map[string]bool
}

func (c Config) isSet(name string) bool { return c.explicit[name] }

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	config := Config{}
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&config.ConfigFile, "config", "", "Path to JSON decoder config (optional)")
	fs.StringVar(&config.Model, "model", "", "Sensor model: VLP-16, VLP-16-HiRes, HDL-32E, VLP-32C (default from config, else VLP-16)")
	fs.StringVar(&config.Calibration, "calibration", "", "Calibration file (.yaml, .xml or .csv); default is the nominal table for the model")
	fs.StringVar(&config.PCAPFile, "pcap", "", "Replay packets from a pcap/pcapng file instead of listening")
	fs.StringVar(&config.Listen, "listen", "", "UDP listen address (default :2368)")
	fs.IntVar(&config.Port, "port", velodyne.DEFAULT_UDP_PORT, "UDP port carrying sensor data")
	fs.StringVar(&config.Forward, "forward", "", "Forward raw packets to host:port")
	fs.Float64Var(&config.Speed, "speed", 0, "PCAP replay speed multiplier (0 = as fast as possible)")
	fs.IntVar(&config.Workers, "workers", 0, "Decode workers (0 = GOMAXPROCS)")
	fs.StringVar(&config.Format, "format", formatCSV, "Output format: csv, json (one point per line) or summary")
	fs.StringVar(&config.OutFile, "out", "", "Output file (default stdout)")
	fs.StringVar(&config.LogFile, "log-file", "", "Also write logs to this file, rotated by size")
	fs.BoolVar(&config.DuplicateDual, "duplicate-dual", false, "Emit both returns when dual returns measure the same distance")
	fs.BoolVar(&config.StrictFactory, "strict", false, "Reject packets whose factory byte names a different model")
	fs.BoolVar(&config.Verbose, "v", false, "Enable per-packet trace logging")
	fs.BoolVar(&config.ShowVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [options]\n\n", programName)
		fmt.Fprintf(stderr, "Decodes Velodyne VLP-16, Puck Hi-Res, HDL-32E and VLP-32C data packets into points.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  %s -pcap capture.pcap -model VLP-16 -out points.csv\n", programName)
		fmt.Fprintf(stderr, "  %s -pcap capture.pcap -calibration HDL-32E.yaml -model HDL-32E -format summary\n", programName)
		fmt.Fprintf(stderr, "  %s -listen :2368 -format json | head\n", programName)
	}

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if fs.NArg() > 0 {
		return config, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	config.explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { config.explicit[f.Name] = true })

	switch config.Format {
	case formatCSV, formatJSON, formatSummary:
	default:
		return config, fmt.Errorf("unknown format %q (want csv, json or summary)", config.Format)
	}
	if config.Workers < 0 {
		return config, fmt.Errorf("workers must be non-negative, got %d", config.Workers)
	}
	if config.Speed < 0 {
		return config, fmt.Errorf("speed must be non-negative, got %f", config.Speed)
	}
	return config, nil
}

// setupLogging routes the standard logger and the package log streams to
// stderr, plus a rotating file when logFile is set. The returned closer
// releases the file.
func setupLogging(logFile string, verbose bool) io.Closer {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    25, // megabytes
			MaxAge:     7,  // days
			MaxBackups: 5,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var trace io.Writer
	if verbose {
		trace = w
	}
	velodyne.SetLogWriters(w, w, trace)
	network.SetLogWriters(w, w, trace)
	return closer
}

func main() {
	config, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if config.ShowVersion {
		fmt.Println(version.String(programName))
		return
	}

	logCloser := setupLogging(config.LogFile, config.Verbose)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := io.Writer(os.Stdout)
	if config.OutFile != "" {
		f, err := os.Create(config.OutFile)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	if err := run(ctx, config, out); err != nil {
		log.Printf("%s failed: %v", programName, err)
		logCloser.Close()
		os.Exit(1)
	}
}
