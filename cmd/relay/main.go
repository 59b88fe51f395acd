// Command relay re-encodes newline-delimited wire messages so that peers
// speaking different protocol versions can exchange traffic. It reads frames
// from stdin (or -in) and writes them at the target versions to stdout (or
// -out), optionally serving health and metrics over HTTP while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-streams/pkg/api"
	"github.com/ZentaChain/zentalk-streams/pkg/config"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/network"
	"github.com/ZentaChain/zentalk-streams/pkg/relay"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	inPath        = flag.String("in", "", "Input file (default stdin)")
	outPath       = flag.String("out", "", "Output file (default stdout)")
	classFlag     = flag.String("class", "auto", "Message class of the input: auto, stream or control")
	streamVersion = flag.Int("version", 0, "Stream message version to write (overrides config)")
	strict        = flag.Bool("strict", false, "Stop at the first frame that fails to translate")
	httpEnabled   = flag.Bool("http", false, "Serve health and metrics (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *streamVersion != 0 {
		cfg.Protocol.StreamMessageVersion = *streamVersion
	}
	if *httpEnabled {
		cfg.HTTP.Enabled = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	class, err := relay.ParseClass(*classFlag)
	if err != nil {
		return err
	}

	volume := metrics.NewVolume()
	translator, err := relay.NewTranslator(relay.Options{
		StreamMessageVersion: cfg.Protocol.StreamMessageVersion,
		ControlVersion:       cfg.Protocol.ControlVersion,
		Volume:               volume,
	})
	if err != nil {
		return err
	}

	in, out, closeFiles, err := openIO(*inPath, *outPath)
	if err != nil {
		return err
	}
	defer closeFiles()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		server, err := newServer(cfg, volume, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return server.Start(ctx) })
	}

	logger.Info("Relay starting",
		zap.String("class", *classFlag),
		zap.Int("streamMessageVersion", translator.StreamMessageVersion()),
		zap.Int("controlVersion", translator.ControlVersion()),
		zap.Bool("strict", *strict))

	g.Go(func() error {
		stats, err := translator.Run(ctx, in, out, relay.PipelineConfig{
			BufferSize: cfg.Relay.BufferSize,
			Strict:     *strict,
			Class:      class,
			Logger:     logger,
		})
		logger.Info("Relay finished",
			zap.Int64("read", stats.Read),
			zap.Int64("written", stats.Written),
			zap.Int64("failed", stats.Failed))
		stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newServer(cfg *config.Config, volume *metrics.Volume, logger *zap.Logger) (*api.Server, error) {
	local, err := network.NewPeerInfo(localPeerID(cfg), network.PeerType(cfg.Node.Type), network.PeerOptions{
		Name:     cfg.Node.Name,
		Addrs:    cfg.Node.Addrs,
		Location: &network.Location{Country: cfg.Node.Country, City: cfg.Node.City},
	})
	if err != nil {
		return nil, err
	}

	return api.NewServer(api.Deps{
		Volume: volume,
		Peers:  network.NewPeerRegistry(local, logger),
		Logger: logger,
	}, &api.Config{
		Port:         cfg.HTTP.Port,
		EnableCORS:   cfg.HTTP.EnableCORS,
		RateLimit:    cfg.HTTP.RateLimit,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		APIKeys:      cfg.HTTP.APIKeys,
	})
}

func localPeerID(cfg *config.Config) string {
	if cfg.Node.ID != "" {
		return cfg.Node.ID
	}
	host, err := os.Hostname()
	if err != nil {
		return "relay"
	}
	return host
}

func openIO(inPath, outPath string) (io.Reader, io.Writer, func(), error) {
	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout
	var files []*os.File

	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open input: %w", err)
		}
		files = append(files, f)
		in = f
	}
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("create output: %w", err)
		}
		files = append(files, f)
		out = f
	}
	return in, out, closeAll, nil
}
