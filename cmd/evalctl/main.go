package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"evalhub/internal/cli/httpclient"
	"evalhub/internal/cli/repl"
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8080", "Evaluator service base URL")
	principal := flag.String("principal", "", "Principal ID sent with every request")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	flag.Parse()

	if *principal == "" {
		*principal = os.Getenv("EVALHUB_PRINCIPAL")
	}
	if *principal == "" {
		fmt.Fprintln(os.Stderr, "a principal is required: pass -principal or set EVALHUB_PRINCIPAL")
		return
	}

	var session *repl.Session
	client := httpclient.New(*baseURL, *timeout, func() string {
		return session.Principal()
	})
	session = repl.New(client, *principal)

	if err := session.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
