// Command stress drives concurrent register/login/payment load through
// the gateway and prints the resulting balances. Useful for soaking a
// locally running five-bank topology.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mnohosten/interbank/pkg/client"
)

type account struct {
	bank     string
	number   string
	username string
}

func main() {
	gatewayAddr := flag.String("gateway", "localhost:50060", "Gateway host:port")
	certs := flag.String("certs", "certs", "Directory with ca.crt, client.crt and client.key")
	banks := flag.String("banks", "bank_a,bank_b,bank_c,bank_d,bank_e", "Banks to spread accounts across")
	accounts := flag.Int("accounts", 10, "Accounts to register per bank")
	payments := flag.Int("payments", 200, "Total payments to submit")
	workers := flag.Int("workers", 8, "Concurrent payment workers")
	initial := flag.Float64("initial", 1000, "Initial balance per account")
	flag.Parse()

	bankNames := splitList(*banks)
	if len(bankNames) == 0 {
		fmt.Fprintln(os.Stderr, "No banks given")
		os.Exit(1)
	}

	c, err := client.Dial(&client.Config{GatewayAddr: *gatewayAddr, CertsDir: *certs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx := context.Background()
	if up, err := c.HealthCheck(ctx); err != nil || !up {
		fmt.Fprintf(os.Stderr, "Gateway not healthy: %v\n", err)
		os.Exit(1)
	}

	run := uuid.NewString()[:8]
	var all []account
	for _, bank := range bankNames {
		for i := 0; i < *accounts; i++ {
			username := fmt.Sprintf("stress-%s-%s-%d", run, bank, i)
			number, err := c.Register(ctx, username, "hunter2", bank, *initial)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to register %s at %s: %v\n", username, bank, err)
				os.Exit(1)
			}
			if _, err := c.Login(ctx, username, "hunter2", bank); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to log in %s: %v\n", username, err)
				os.Exit(1)
			}
			all = append(all, account{bank: bank, number: number, username: username})
		}
	}
	log.WithFields(log.Fields{"accounts": len(all), "banks": len(bankNames)}).Info("accounts ready")

	var committed, failed, queued atomic.Int64
	jobs := make(chan int)
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range jobs {
				from := all[rng.Intn(len(all))]
				to := all[rng.Intn(len(all))]
				amount := float64(rng.Intn(50) + 1)

				result, err := c.Pay(ctx, uuid.NewString(), from.bank, from.number, to.bank, to.number, amount)
				switch {
				case err != nil:
					failed.Add(1)
				case result.Queued:
					queued.Add(1)
				case result.Success:
					committed.Add(1)
				default:
					failed.Add(1)
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}

	for i := 0; i < *payments; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if c.QueueLen() > 0 {
		log.WithField("pending", c.QueueLen()).Info("flushing offline queue")
		flushCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := c.Flush(flushCtx); err != nil {
			log.WithError(err).Warn("flush incomplete")
		}
		cancel()
	}

	elapsed := time.Since(start)
	fmt.Printf("payments: %d committed, %d failed, %d queued, %.1f/s\n",
		committed.Load(), failed.Load(), queued.Load(),
		float64(*payments)/elapsed.Seconds())

	var total float64
	for _, a := range all {
		balance, err := c.Balance(ctx, a.bank, a.number)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read balance of %s: %v\n", a.number, err)
			continue
		}
		total += balance
		fmt.Printf("%s %s (%s): %.2f\n", a.bank, a.number, a.username, balance)
	}
	fmt.Printf("total funds: %.2f (expected %.2f)\n", total, float64(len(all))**initial)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
