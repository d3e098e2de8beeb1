// Package main runs the inkvault server: a self-hosted replacement for the
// vendor sync backend, serving the device API, the web API and the public
// OSS routes behind a single fasthttp listener (spec.md §2).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/chunkstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/coordination"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/fileservice"
	"github.com/inkvault/inkvault/httpapi"
	"github.com/inkvault/inkvault/inference"
	"github.com/inkvault/inkvault/integrity"
	"github.com/inkvault/inkvault/processor"
	"github.com/inkvault/inkvault/renderer"
	"github.com/inkvault/inkvault/search"
	"github.com/inkvault/inkvault/syncsvc"
	"github.com/inkvault/inkvault/urlsign"
	"github.com/inkvault/inkvault/user"
	"github.com/inkvault/inkvault/vfs"
)

var configPath = flag.String("config", "", "path to a JSON config file; defaults are used for anything it omits")

// snowflakeEpoch anchors the id generator; any fixed moment before the
// server's first real deployment works.
var snowflakeEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := cmn.LoadConfig(*configPath)
	if err != nil {
		cmn.Errorf("inkvaultd: load config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		cmn.Errorf("inkvaultd: invalid config: %v", err)
		return 1
	}

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		cmn.Errorf("inkvaultd: create storage root: %v", err)
		return 1
	}

	database, err := db.Open(filepath.Join(cfg.Storage.Root, "inkvault.db"))
	if err != nil {
		cmn.Errorf("inkvaultd: open database: %v", err)
		return 1
	}
	defer database.Close()

	blobs, err := blobstore.Open(cfg.Storage.Root)
	if err != nil {
		cmn.Errorf("inkvaultd: open blob store: %v", err)
		return 1
	}

	chunks, err := chunkstore.Open(filepath.Join(cfg.Storage.Root, "chunks"), blobs)
	if err != nil {
		cmn.Errorf("inkvaultd: open chunk store: %v", err)
		return 1
	}

	coord, err := coordination.Open(filepath.Join(cfg.Storage.Root, "coordination.db"))
	if err != nil {
		cmn.Errorf("inkvaultd: open coordination store: %v", err)
		return 1
	}

	ids := cmn.NewSnowflake(snowflakeEpoch, 1)

	signer, err := urlsign.New(cfg.Auth.SessionSecret, coord)
	if err != nil {
		cmn.Errorf("inkvaultd: create url signer: %v", err)
		return 1
	}
	signer = signer.WithMaxAge(cfg.Auth.SignedURLMaxAge)

	bus := eventbus.New()
	tree := vfs.New(database, ids)
	users := user.New(database, coord, ids, &cfg.Auth)
	files := fileservice.New(tree, blobs, chunks, signer, bus)
	sync := syncsvc.New(coord, cfg.Sync.LeaseTTL)

	infer := inference.NewLimited(inference.NewStub(), cfg.Processor.InferenceConcLimit)
	render := renderer.NewSimple()

	proc := processor.New(database, tree, blobs, render, infer, bus, cfg.Processor.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := proc.Start(ctx); err != nil {
		cmn.Errorf("inkvaultd: start processor: %v", err)
		return 1
	}

	searchSvc := search.New(database, infer)
	integritySvc := integrity.New(database, blobs)

	srv := httpapi.New(users, files, tree, sync, searchSvc, integritySvc, signer, blobs, chunks, cfg.Storage.MaxUploadBytes)

	fhs := &fasthttp.Server{
		Handler:            srv.Handler,
		MaxRequestBodySize: int(cfg.Storage.MaxUploadBytes),
	}

	errCh := make(chan error, 1)
	go func() {
		cmn.Infof("inkvaultd: listening on %s", cfg.Net.ListenAddr)
		errCh <- fhs.ListenAndServe(cfg.Net.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			cmn.Errorf("inkvaultd: server exited: %v", err)
			return 1
		}
	case sig := <-sigCh:
		cmn.Infof("inkvaultd: received %s, shutting down", sig)
		cancel()
		if err := fhs.Shutdown(); err != nil {
			cmn.Errorf("inkvaultd: shutdown: %v", err)
		}
	}
	return 0
}
