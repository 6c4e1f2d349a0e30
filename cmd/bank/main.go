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
	"github.com/mnohosten/interbank/pkg/bank"
)

func main() {
	host := flag.String("host", "0.0.0.0", "Listen host address")
	port := flag.Int("port", 50055, "Listen port")
	name := flag.String("name", "", "Bank name, must match the TLS certificate role (e.g. bank_a)")
	certs := flag.String("certs", "certs", "Directory with ca.crt, <name>.crt and <name>.key")
	adminPort := flag.Int("admin", 0, "Admin HTTP port for /healthz and /metrics (0 disables)")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Failed to start bank: -name is required")
		os.Exit(1)
	}

	config := bank.DefaultConfig()
	config.Name = *name
	config.Host = *host
	config.Port = *port
	config.CertsDir = *certs

	srv, err := bank.NewServer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start bank: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(log.Fields{"bank": *name, "addr": srv.Addr().String()}).Info("bank started")

	var adminSrv *admin.Server
	if *adminPort > 0 {
		adminSrv = admin.NewServer(&admin.Config{Host: *host, Port: *adminPort})
		adminSrv.Start()
	}

	waitForSignal()

	srv.Stop()
	if adminSrv != nil {
		shutdownAdmin(adminSrv)
	}
	log.WithField("bank", *name).Info("bank stopped")
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func shutdownAdmin(srv *admin.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.WithError(err).Warn("admin shutdown incomplete")
	}
}
