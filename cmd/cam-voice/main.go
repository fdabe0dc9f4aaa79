// cmd/cam-voice/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/command"
	"github.com/sua-org/cam-voice/internal/config"
	"github.com/sua-org/cam-voice/internal/coordinator"
	"github.com/sua-org/cam-voice/internal/encoder"
	"github.com/sua-org/cam-voice/internal/logging"
	"github.com/sua-org/cam-voice/internal/mqttclient"
	"github.com/sua-org/cam-voice/internal/registry"
	"github.com/sua-org/cam-voice/internal/server"
	"github.com/sua-org/cam-voice/internal/source"
	"github.com/sua-org/cam-voice/internal/storage"
	"github.com/sua-org/cam-voice/internal/stream"
	"github.com/sua-org/cam-voice/internal/voice"
)

func main() {
	// Carrega .env na raiz (se não existir, só loga aviso)
	dotenvErr := config.LoadDotEnv()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[main] configuração inválida: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("[main] erro ao configurar logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("main").Sugar()

	if dotenvErr != nil {
		lg.Debugf("aviso: não foi possível carregar .env: %v", dotenvErr)
	}
	cfg.Log(lg)

	if err := run(cfg, lg); err != nil {
		lg.Errorf("encerrando com erro: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, lg *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}
	lg.Infof("%d câmeras no catálogo: %v", cat.Len(), cat.IDs())

	reg := registry.New(cat)
	sources, err := source.NewProvider(cfg.SourceBackend, source.Options{
		FFmpegBin:   cfg.FFmpegBin,
		OpenTimeout: cfg.OpenTimeout,
	})
	if err != nil {
		return err
	}
	lg.Infof("backends de captura: %v (padrão=%s)", source.Backends(), cfg.SourceBackend)

	opts := coordinator.Options{
		Stream:         stream.Options{MaxRetries: cfg.StreamMaxRetries},
		BaseTopic:      cfg.BaseTopic,
		StatusInterval: cfg.StatusInterval,
	}

	// MinIO é opcional; sem ele o snapshot remoto responde 503
	if cfg.MinIO.Enabled() {
		store, err := storage.NewMinioStore(ctx, cfg.MinIO)
		if err != nil {
			lg.Warnf("aviso: MinIO não inicializado: %v", err)
		} else {
			opts.Store = store
		}
	}

	svc := voice.NewService(command.NewProcessor(reg))

	var listener *voice.Listener
	if cfg.MQTTEnabled {
		mqttCli, err := mqttclient.NewClient(cfg.MQTT)
		if err != nil {
			return err
		}
		defer mqttCli.Close()
		opts.Publisher = mqttCli
		listener = voice.NewListener(mqttCli, svc, cfg.BaseTopic)
	}

	coord := coordinator.New(cat, reg, sources, encoder.NewJPEG(cfg.JPEGQuality), opts)
	go func() {
		if err := coord.Run(ctx); err != nil {
			lg.Errorf("coordinator terminou com erro: %v", err)
		}
	}()
	if listener != nil {
		go func() {
			if err := listener.Run(ctx); err != nil {
				lg.Errorf("voice listener terminou com erro: %v", err)
			}
		}()
	}

	err = server.New(cfg.Addr(), coord, svc).Start(ctx)
	lg.Infof("sinal recebido, encerrando...")
	return err
}
