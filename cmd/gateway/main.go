package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mnohosten/interbank/pkg/admin"
	"github.com/mnohosten/interbank/pkg/gateway"
)

const defaultBankTable = "bank_a=localhost:50055,bank_b=localhost:50056," +
	"bank_c=localhost:50057,bank_d=localhost:50058,bank_e=localhost:50059"

func main() {
	host := flag.String("host", "0.0.0.0", "Listen host address")
	port := flag.Int("port", 50060, "Listen port")
	certs := flag.String("certs", "certs", "Directory with ca.crt, gateway.crt and gateway.key")
	banks := flag.String("banks", defaultBankTable, "Bank directory as name=host:port pairs, comma separated")
	adminPort := flag.Int("admin", 0, "Admin HTTP port for /healthz, /metrics and /events (0 disables)")
	flag.Parse()

	table, err := gateway.ParseBankTable(*banks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -banks value: %v\n", err)
		os.Exit(1)
	}

	config := gateway.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.CertsDir = *certs
	config.Banks = table

	var events *admin.EventHub
	if *adminPort > 0 {
		events = admin.NewEventHub()
	}

	srv, err := gateway.NewServer(config, sink(events))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start gateway: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(log.Fields{"addr": srv.Addr().String(), "banks": len(table)}).Info("gateway started")

	var adminSrv *admin.Server
	if *adminPort > 0 {
		adminSrv = admin.NewServer(&admin.Config{Host: *host, Port: *adminPort, Events: events})
		adminSrv.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	srv.Stop()
	if adminSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminSrv.Stop(ctx); err != nil {
			log.WithError(err).Warn("admin shutdown incomplete")
		}
		cancel()
	}
	log.Info("gateway stopped")
}

// sink avoids handing the gateway a non-nil interface holding a nil hub.
func sink(events *admin.EventHub) gateway.EventSink {
	if events == nil {
		return nil
	}
	return events
}
