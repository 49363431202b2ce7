// healthprobe is a tiny client for container healthchecks: it probes the
// server's liveness and readiness endpoints and exits nonzero on failure.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("addr", "http://127.0.0.1:8080", "server base URL")
	timeout := flag.Duration("timeout", 2*time.Second, "per-probe timeout")
	ready := flag.Bool("ready", true, "also require /readyz to pass")
	flag.Parse()

	paths := []string{"/healthz"}
	if *ready {
		paths = append(paths, "/readyz")
	}

	client := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}
	for _, p := range paths {
		status, body, err := client.GetTimeout(nil, *base+p, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe %s: %v\n", p, err)
			os.Exit(1)
		}
		if status != fasthttp.StatusOK {
			fmt.Fprintf(os.Stderr, "probe %s: status %d: %s\n", p, status, body)
			os.Exit(1)
		}
	}
	fmt.Println("ok")
}
