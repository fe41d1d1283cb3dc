package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gosuri/uilive"

	"github.com/lkslts64/minibit/internal/peer"
)

var (
	trackerHost = flag.String("tracker-host", "127.0.0.1", "tracker address")
	trackerPort = flag.Int("tracker-port", 8080, "tracker port")
	listenHost  = flag.String("listen-host", "0.0.0.0", "address to accept peer connections on")
	listenPort  = flag.Int("listen-port", 0, "port to accept peer connections on (0 picks a free port)")
	filePath    = flag.String("file-path", "", "path to the file to seed")
	fileName    = flag.String("file-name", "", "name of the file to download")
	blockSize   = flag.Int("block-size", 1<<14, "fixed block size in bytes")
	downloadDir = flag.String("downloads-dir", "downloads", "directory completed downloads are written to")
)

func main() {
	flag.Parse()
	if (*filePath == "") == (*fileName == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --file-path or --file-name must be given")
		os.Exit(1)
	}

	cfg := peer.DefaultConfig()
	cfg.BlockSize = *blockSize
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	id := peer.NewPeerID()
	logger := log.New(os.Stdout, fmt.Sprintf("minibit-peer[%s] ", id[:8]), log.LstdFlags)
	trackerAddr := fmt.Sprintf("%s:%d", *trackerHost, *trackerPort)

	var p *peer.Peer
	var err error
	var name string
	if *filePath != "" {
		name = filepath.Base(*filePath)
		p, err = peer.NewSeeder(cfg, id, trackerAddr, *listenHost, *listenPort, name, *filePath, rng, logger)
	} else {
		name = *fileName
		p, err = peer.NewLeecher(cfg, id, trackerAddr, *listenHost, *listenPort, name, rng, logger)
	}
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Println("shutting down")
		cancel()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	w := uilive.New()
	w.Start()
	defer w.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-runErr:
			if err != nil {
				logger.Fatal(err)
			}
			os.Exit(0)
		case <-ticker.C:
			have, total := p.Progress()
			fmt.Fprintln(w, p.Stats().String(have, total))
			if p.IsComplete() {
				if err := writeCompletedDownload(p, name); err != nil {
					logger.Printf("write download: %v", err)
				} else {
					fmt.Fprintf(w, "%s complete -> %s\n", name, filepath.Join(*downloadDir, name))
				}
				ticker.Stop()
			}
		}
	}
}

func writeCompletedDownload(p *peer.Peer, name string) error {
	if err := os.MkdirAll(*downloadDir, 0755); err != nil {
		return err
	}
	return p.Reconstruct(filepath.Join(*downloadDir, name))
}
