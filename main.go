package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"ficsniff/internal/config"
	"ficsniff/internal/engine"
	"ficsniff/internal/handlers"
	"ficsniff/internal/models"
	"ficsniff/internal/sink"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a YAML config file")
	iface := flag.StringP("iface", "i", "", "interface to capture from")
	readFile := flag.StringP("read", "r", "", "pcap file to analyze instead of capturing")
	filter := flag.StringP("filter", "f", "", "BPF filter (default: the FICS ports)")
	listen := flag.String("listen", "", "serve the WebSocket/API on this address")
	natsURL := flag.String("nats", "", "publish events to this NATS server")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Println("Configuration loaded successfully.")
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if *readFile != "" {
		cfg.Capture.PcapFile = *readFile
	}
	if *filter != "" {
		cfg.Capture.BPFFilter = *filter
	}
	if *listen != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = *listen
	}
	if *natsURL != "" {
		cfg.Output.NATSURL = *natsURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	out, closeOutputs, err := buildSinks(cfg)
	if err != nil {
		log.Fatalf("Failed to set up output: %v", err)
	}
	defer closeOutputs()

	eng, err := engine.New(cfg, out)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	if cfg.Capture.PcapFile != "" {
		log.Printf("Reading packets from '%s'...", cfg.Capture.PcapFile)
		if err := eng.LoadPcapFile(cfg.Capture.PcapFile); err != nil {
			log.Fatalf("Failed to analyze pcap: %v", err)
		}
		return
	}

	if cfg.Capture.Interface == "" && !cfg.HTTP.Enabled {
		fmt.Fprintln(os.Stderr, "nothing to do: give --iface, --read or --listen")
		flag.Usage()
		os.Exit(1)
	}

	if cfg.HTTP.Enabled {
		go func() {
			log.Printf("ficsniff API listening on %s", cfg.HTTP.Addr)
			if err := http.ListenAndServe(cfg.HTTP.Addr, handlers.NewRouter(eng)); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		}()
	}

	if cfg.Capture.Interface != "" {
		err := eng.StartCapture(models.StartCaptureRequest{
			Interface: cfg.Capture.Interface,
			BPFFilter: cfg.Capture.BPFFilter,
			SnapLen:   cfg.Capture.SnapLen,
		})
		if err != nil {
			log.Fatalf("Failed to start capture: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping capture...")
	eng.StopCapture()
	log.Println("Shutdown complete.")
}

// buildSinks assembles the configured outputs. The returned func closes them.
func buildSinks(cfg *config.Config) (sink.Sink, func(), error) {
	w := os.Stdout
	var closers []func()

	if cfg.Output.LogFile != "" {
		f, err := os.OpenFile(cfg.Output.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closers = append(closers, func() { f.Close() })
	}
	sinks := sink.Multi{sink.NewLogSink(w)}

	if cfg.Output.NATSURL != "" {
		ns, err := sink.NewNATSSink(cfg.Output.NATSURL, cfg.Output.NATSSubject)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		sinks = append(sinks, ns)
		closers = append(closers, ns.Close)
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
