package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/audiocast/internal/adapters/http"
	"github.com/dkeye/audiocast/internal/adapters/capture"
	"github.com/dkeye/audiocast/internal/adapters/rtc"
	sig "github.com/dkeye/audiocast/internal/adapters/signal"
	"github.com/dkeye/audiocast/internal/app"
	"github.com/dkeye/audiocast/internal/app/session"
	"github.com/dkeye/audiocast/internal/app/stream"
	"github.com/dkeye/audiocast/internal/config"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	setupLogger(cfg.Log)
	cfg.Watch(func(next *config.Config) {
		setLevel(next.Log.Level)
		log.Info().Str("level", next.Log.Level).Msg("log level reloaded")
	}, func(err error) {
		log.Warn().Err(err).Msg("config reload rejected")
	})

	policy, err := stream.ParseDropPolicy(cfg.Relay.DropPolicy)
	if err != nil {
		return err
	}

	m := metrics.New()
	device := capture.NewDevice(capture.Config{
		Mode:       capture.Mode(cfg.Audio.Device),
		DeviceName: cfg.Audio.DeviceName,
	})
	source := stream.NewSource(device, stream.SourceConfig{
		Format:     domain.DefaultFormat,
		QueueDepth: cfg.Relay.QueueDepth,
		DropPolicy: policy,
		KeepAlive:  cfg.Relay.KeepAlive,
	}, m)

	factory, err := rtc.NewFactory(rtc.Config{
		ICEServers:          cfg.WebRTC.ICEServers,
		GatherTimeout:       cfg.WebRTC.GatherTimeout,
		DisconnectedTimeout: cfg.WebRTC.DisconnectedTimeout,
		FailedTimeout:       cfg.WebRTC.FailedTimeout,
		KeepAliveInterval:   cfg.WebRTC.KeepAliveInterval,
		IncludeLoopback:     cfg.WebRTC.IncludeLoopback,
	}, m)
	if err != nil {
		return fmt.Errorf("webrtc setup: %w", err)
	}

	reg := app.NewRegistry()
	manager := &session.Manager{
		Source:   source,
		Media:    factory,
		Registry: reg,
		Metrics:  m,
	}
	ws := &sig.SignalWSController{
		Sessions: manager,
		Limiter:  sig.NewConnectLimiter(cfg.Signal.ConnectLimit, cfg.Signal.ConnectWindow),
		Conn:     sig.ConnConfig{ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod},
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signal:   ws,
		Sessions: reg,
		Source:   source,
		Metrics:  m.Handler(),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("device", cfg.Audio.Device).Msg("audiocast server started")
		for _, u := range listenURLs(cfg.Port) {
			log.Info().Msgf("open %s", u)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
			reg.CloseAll()
			source.Stop()
			return err
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked websockets are not tracked by Shutdown.
	n := reg.CloseAll()
	source.Stop()
	log.Info().Int("sessions", n).Msg("Server exited gracefully")
	return nil
}

// listenURLs lists http URLs for the non-loopback IPv4 addresses of this host.
func listenURLs(port int) []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var urls []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.To4() == nil {
				continue
			}
			urls = append(urls, fmt.Sprintf("http://%s:%d/", ipn.IP, port))
		}
	}
	return urls
}
