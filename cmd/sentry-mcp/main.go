package main

import (
	"os"

	"github.com/dgellow/sentry-mcp/internal/log"
)

var BuildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}
