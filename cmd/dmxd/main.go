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

	"golang.org/x/sync/errgroup"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/api"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/artnet"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/clientmqtt"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/config"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dispatch"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/engine"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/fallback"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/retransmit"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/sender"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

var (
	configDir     string
	httpAddr      string
	requireBroker bool
	showConfig    bool
	printConfig   bool
)

func init() {
	flag.StringVar(&configDir, "config-dir", "configs", "Directory holding settings.json and config.json")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address for the REST API")
	flag.BoolVar(&requireBroker, "require-broker", false, "Exit with status 2 if the MQTT broker is unreachable after max backoff")
	flag.BoolVar(&showConfig, "show-config", false, "Print the loaded configuration and exit")
	flag.BoolVar(&printConfig, "print-config", false, "Print full configuration details on startup, then continue running")
}

func main() {
	flag.Parse()

	cfg, err := config.NewManager(configDir)
	if err != nil {
		fmt.Printf("configuration load error: %v\n", err)
		os.Exit(1)
	}

	if showConfig {
		raw, err := cfg.PrintRawConfig()
		if err != nil {
			fmt.Printf("print config error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(raw)
		return
	}

	if printConfig {
		fmt.Print(cfg.PrintFullConfig())
	}

	log, err := logger.NewLogger(cfg.Settings().Logging.Level)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("logger created")

	buf := universe.New()
	buf.SetFollowerMap(cfg.Settings().Followers)

	eng := engine.New(log, buf)
	loadShowDocument(eng, cfg.Document())

	senders := sender.New(log, buf, eng)
	fb := fallback.New(log, eng)
	fb.Configure(cfg.Document().Fallback.Scene, cfg.Document().Fallback.Sequence)
	rt := retransmit.New(log, senders)
	rt.SetEnabled(cfg.Settings().Retransmit.Enabled)
	if cfg.Settings().Retransmit.Interval > 0 {
		rt.SetInterval(time.Duration(cfg.Settings().Retransmit.Interval * float64(time.Second)))
	}

	dsp := dispatch.New(eng, senders, cfg, fb)

	disc, err := artnet.NewDiscovery(log)
	if err != nil {
		log.With(logger.Fields{"module": "artnet"}).Warnf("art-net discovery disabled: %v", err)
		disc = nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	for _, desc := range cfg.Settings().DMX.DefaultConfigs {
		if err := senders.Add(ctx, desc); err != nil {
			log.With(logger.Fields{"module": "sender"}).Errorf("failed to start sender %q: %v", desc.Name, err)
		}
	}

	sequenceNames := make([]string, 0, len(cfg.Document().Sequences))
	for name := range cfg.Document().Sequences {
		sequenceNames = append(sequenceNames, name)
	}
	mqttClient := clientmqtt.NewClient(log, cfg.Settings().MQTT, dsp, sequenceNames)

	if disc != nil {
		if err := disc.Start(); err != nil {
			log.With(logger.Fields{"module": "artnet"}).Warnf("art-net discovery failed to start: %v", err)
			disc = nil
		} else {
			defer disc.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: api.New(log, dsp, eng, cfg, fb, rt, disc).Handler(),
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	group.Go(func() error {
		rt.Run(gctx)
		return nil
	})
	group.Go(func() error {
		fb.Run(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	brokerErr := make(chan error, 1)
	go func() {
		brokerErr <- connectBroker(gctx, mqttClient, requireBroker)
	}()

	applyAutostart(eng, cfg.Document().Autostart)

	log.With(logger.Fields{"module": "api"}).Infof("listening on %s", httpAddr)
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	select {
	case err := <-brokerErr:
		if err != nil && requireBroker {
			log.Errorf("mqtt broker unreachable: %v", err)
			cancel()
			_ = group.Wait()
			os.Exit(2)
		}
	case <-gctx.Done():
	}

	if err := group.Wait(); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	_ = mqttClient.Stop()
	log.Info("shutdown complete")
}

// loadShowDocument seeds the engine's in-memory scene/sequence/
// programmable stores from the persisted config document.
func loadShowDocument(eng *engine.Engine, doc config.Document) {
	for _, scene := range doc.Scenes {
		eng.PutScene(scene)
	}
	for _, seq := range doc.Sequences {
		eng.PutSequence(seq)
	}
	for _, prog := range doc.ProgrammableScenes {
		eng.PutProgrammable(prog)
	}
}

func applyAutostart(eng *engine.Engine, cfg model.AutostartConfig) {
	switch cfg.Kind {
	case model.AutostartScene:
		_ = eng.PlayScene(cfg.ID, 0)
	case model.AutostartSequence:
		_ = eng.PlaySequence(cfg.ID)
	case model.AutostartProgrammable:
		_ = eng.PlayProgrammable(cfg.ID)
	}
}

// connectBroker connects to the broker with exponential backoff capped
// at 30s. When required is true, it gives up and returns the last error
// once the backoff has reached its cap and still fails, so the caller
// can exit(2); otherwise it retries forever in the background.
func connectBroker(ctx context.Context, client *clientmqtt.Client, required bool) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		err := client.Start(ctx)
		if err == nil {
			return nil
		}
		atCap := backoff >= maxBackoff
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		if required && atCap {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
