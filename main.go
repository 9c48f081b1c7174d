package main

import (
	"fmt"
	"os"

	"github.com/jghoshh/duet/backend"
	"github.com/jghoshh/duet/frontend"
)

const usage = `usage: duet [server|client]

  server  run the backend API (default)
  client  run the interactive CLI
`

func main() {
	mode := "server"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "server", "backend":
		backend.RunBackend()
	case "client", "frontend":
		frontend.RunFrontend()
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
