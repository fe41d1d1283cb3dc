package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lkslts64/minibit/internal/trackersrv"
)

var (
	host = flag.String("host", "0.0.0.0", "address to bind the tracker on")
	port = flag.Int("port", 8080, "port to bind the tracker on")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stdout, "minibit-tracker ", log.LstdFlags)

	tr := trackersrv.New(*host, *port, logger)
	if err := tr.Start(); err != nil {
		logger.Fatal(err)
	}
	logger.Printf("listening on %s", tr.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")
	tr.Stop()
}
