// Command modbus-server runs the Modbus/TCP test-harness server
// standalone, for exercising a client library against a known,
// scriptable target instead of real PLC hardware.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/server/modbussrv"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML fixture file (register counts, unit_id)")
	listen := flag.String("listen", "", "Override the config's listen address")
	flag.Parse()

	cfg := config.ModbusServerConfig{
		Listen:           "0.0.0.0:502",
		Coils:            2000,
		DiscreteInputs:   2000,
		HoldingRegisters: 125,
		InputRegisters:   125,
		UnitID:           1,
	}
	if *configPath != "" {
		loaded, err := config.LoadModbusServer(*configPath)
		if err != nil {
			log.Fatalf("modbus-server: %v", err)
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	srv := modbussrv.NewServer(cfg)
	srv.SetLogFunc(log.Printf)

	if err := srv.Start(cfg.Listen); err != nil {
		log.Fatalf("modbus-server: listen on %s: %v", cfg.Listen, err)
	}
	log.Printf("modbus-server: listening on %s", srv.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("modbus-server: shutting down")
	srv.Stop()
}
