// Command ab-server runs the Allen-Bradley EtherNet/IP test-harness
// server standalone, for exercising a client library against a known,
// scriptable target instead of real PLC hardware.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/server/ab"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML fixture file (tags, pccc_files, forward_open_reject_count)")
	listen := flag.String("listen", "", "Override the config's listen address")
	flag.Parse()

	cfg := config.ABServerConfig{Listen: "0.0.0.0:44818"}
	if *configPath != "" {
		loaded, err := config.LoadABServer(*configPath)
		if err != nil {
			log.Fatalf("ab-server: %v", err)
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	srv, err := ab.NewServer(cfg)
	if err != nil {
		log.Fatalf("ab-server: building server: %v", err)
	}
	srv.SetLogFunc(log.Printf)

	if err := srv.Start(cfg.Listen); err != nil {
		log.Fatalf("ab-server: listen on %s: %v", cfg.Listen, err)
	}
	log.Printf("ab-server: listening on %s", srv.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("ab-server: shutting down")
	srv.Stop()
}
