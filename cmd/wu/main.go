// Command wu is the unified dev server for microfrontend projects: every
// micro-app of the project in the current directory, served live from one
// HTTP endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	wu "github.com/LuisPadre25/wu-cli"
	"github.com/LuisPadre25/wu-cli/gases"
)

func main() {
	var (
		root    = flag.String("root", ".", "project root directory")
		address = flag.String("address", "", "listen address (overrides the project configuration)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)

	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "wu: unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}

	s := wu.New()
	s.Root = *root
	s.Address = *address
	s.DebugMode = *debug
	s.Gases = []wu.Gas{
		gases.CORS(gases.CORSConfig{}),
		gases.Logger(gases.LoggerConfig{Logger: s.Logger()}),
		gases.Recover(gases.RecoverConfig{Logger: s.Logger()}),
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		ctx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		s.Shutdown(ctx)
	}()

	if err := s.Serve(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "wu: %v\n", err)
		os.Exit(1)
	}
}
