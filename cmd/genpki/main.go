// Command genpki writes a development PKI: one CA plus a certificate and
// key per role, signed by it. Production deployments bring their own.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mnohosten/interbank/pkg/rpc"
)

func main() {
	dir := flag.String("dir", "certs", "Output directory")
	roles := flag.String("roles", "bank_a,bank_b,bank_c,bank_d,bank_e,gateway,client",
		"Roles to issue certificates for, comma separated")
	flag.Parse()

	var names []string
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			names = append(names, role)
		}
	}

	if err := rpc.GenerateTestPKI(*dir, names...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate PKI: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote ca.crt and %d role certificates to %s\n", len(names), *dir)
}
