package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"cabtrack/internal/cli"
)

func main() {
	var (
		clientID = flag.String("client-id", "", "Driver or viewer id (token subject)")
		role     = flag.String("role", "driver", "Client role: driver | viewer")
		secret   = flag.String("secret", "", "JWT HMAC secret (HS256)")
	)
	flag.Parse()

	if *clientID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: token --client-id=<id> --role=driver --secret='<secret>'")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateClientToken(*secret, *clientID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:  %s\n", claims.Subject)
	fmt.Printf("  role: %s\n", claims.Role)
	fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
