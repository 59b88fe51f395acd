// Command publish reads JSON content lines from stdin and writes them to
// stdout as signed stream messages of one chain, encrypted whenever the
// stream's policy asks for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-streams/pkg/api"
	"github.com/ZentaChain/zentalk-streams/pkg/config"
	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/encryption"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/publisher"
	"github.com/ZentaChain/zentalk-streams/pkg/storage"
	"github.com/ZentaChain/zentalk-streams/pkg/streams"
)

const defaultKeyPath = "./keys/publisher.key"

var (
	configPath  = flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	streamID    = flag.String("stream", "", "Stream to publish to (required)")
	partition   = flag.Int("partition", 0, "Stream partition")
	keyPath     = flag.String("key", "", "Path to private key file (overrides config)")
	generateKey = flag.Bool("genkey", false, "Generate a new private key at -key")
	rotate      = flag.Bool("rotate", false, "Rotate the stream's group key before publishing")
	version     = flag.Int("version", 0, "Stream message version to write (overrides config)")
	httpEnabled = flag.Bool("http", false, "Serve health and metrics while publishing (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *streamID == "" {
		return fmt.Errorf("-stream flag is required")
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *keyPath != "" {
		cfg.Publisher.PrivateKeyFile = *keyPath
	}
	if cfg.Publisher.PrivateKeyFile == "" {
		cfg.Publisher.PrivateKeyFile = defaultKeyPath
	}
	if *version != 0 {
		cfg.Protocol.StreamMessageVersion = *version
	}
	if *httpEnabled {
		cfg.HTTP.Enabled = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	signer, err := loadOrGenerateKey(cfg.Publisher.PrivateKeyFile, *generateKey, logger)
	if err != nil {
		return fmt.Errorf("failed to load/generate key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keyStore, err := storage.NewGroupKeyStore(cfg.Publisher.GroupKeyDB, logger)
	if err != nil {
		return err
	}
	defer keyStore.Close()
	keyExchange := encryption.NewPublisherKeyExchange(keyStore, cfg.Publisher.CreateMissingKeys, logger)

	if *rotate {
		if _, err := keyExchange.RotateGroupKey(ctx, *streamID); err != nil {
			return fmt.Errorf("rotate group key: %w", err)
		}
	}

	fetcher := streams.NewFetcher(streams.Config{
		BaseURL:      cfg.CoreAPI.URL,
		SessionToken: cfg.CoreAPI.SessionToken,
		MaxAge:       cfg.CoreAPI.CacheMaxAge,
		CacheSize:    cfg.CoreAPI.CacheSize,
		HTTPClient:   &http.Client{Timeout: cfg.CoreAPI.Timeout},
		Logger:       logger,
	})

	volume := metrics.NewVolume()
	gate := encryption.NewGate(fetcher, keyExchange,
		encryption.WithLogger(logger),
		encryption.WithVolume(volume))
	defer gate.Stop()

	pub, err := publisher.New(publisher.Config{
		StreamID:        *streamID,
		StreamPartition: *partition,
		MsgChainID:      cfg.Publisher.MsgChainID,
		Version:         cfg.Protocol.StreamMessageVersion,
		Signer:          signer,
		Encrypter:       gate,
		Volume:          volume,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Publishing",
		zap.String("stream", *streamID),
		zap.Int("partition", *partition),
		zap.String("publisher", signer.Address()),
		zap.String("msgChainId", pub.MsgChainID()))

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Enabled {
		server, err := api.NewServer(api.Deps{
			Volume: volume,
			Gate:   gate,
			Logger: logger,
		}, &api.Config{
			Port:         cfg.HTTP.Port,
			EnableCORS:   cfg.HTTP.EnableCORS,
			RateLimit:    cfg.HTTP.RateLimit,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			APIKeys:      cfg.HTTP.APIKeys,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return server.Start(ctx) })
	}

	// an interrupt stops the gate: /health turns unhealthy and the message in
	// flight is dropped instead of going out unencrypted
	stopGate := context.AfterFunc(ctx, gate.Stop)
	defer stopGate()

	g.Go(func() error {
		defer stop()
		n, err := pub.PublishLines(ctx, os.Stdin, os.Stdout)
		logger.Info("Done", zap.Int("published", n))
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, publisher.ErrEncrypterStopped) {
		return nil
	}
	return err
}

func loadOrGenerateKey(path string, generate bool, logger *zap.Logger) (*crypto.Signer, error) {
	if _, err := os.Stat(path); err == nil && !generate {
		logger.Debug("Loading existing private key", zap.String("path", path))
		return crypto.LoadSignerFromFile(path)
	}

	logger.Info("Generating new secp256k1 key")
	signer, err := crypto.GenerateSigner()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := signer.SaveKeyToFile(path); err != nil {
		return nil, err
	}

	logger.Info("New key saved",
		zap.String("path", path),
		zap.String("address", signer.Address()))
	return signer, nil
}
