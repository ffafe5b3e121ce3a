// Command token prints a signed bearer token. Approver tokens decide
// approvals; workflow tokens submit payments and gated tool calls.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"agent-payment-gateway/config"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/internal/service"
)

func main() {
	subject := flag.String("sub", "", "operator or workflow name recorded with each action")
	workflow := flag.Bool("workflow", false, "issue a workflow token instead of an approver token")
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret is not set (APG_JWT_SECRET)")
		os.Exit(1)
	}

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	scope := ports.ScopeApprovals
	if *workflow {
		scope = ports.ScopePayments
	}
	token, expiresAt, err := tokenSvc.Generate(*subject, scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "%s token for %q expires %s\n", scope, *subject, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
