// tremolod is a headless music daemon: it streams audio from a Subsonic
// compatible server, maintains a shared play queue, and exposes remote
// control interfaces over TCP and HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"tremolo/internal/audio"
	"tremolo/internal/catalog/subsonic"
	"tremolo/internal/command"
	"tremolo/internal/config"
	"tremolo/internal/frontend/lineproto"
	"tremolo/internal/frontend/web"
	"tremolo/internal/notify"
	"tremolo/internal/queue"
	"tremolo/internal/savestate"
	"tremolo/internal/scrobble"
	"tremolo/internal/session"
	"tremolo/pkg/scrobbling"
)

// startupTimeout bounds login plus container loading at boot.
const startupTimeout = 2 * time.Minute

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to the configuration file")
		debug      = pflag.BoolP("debug", "d", false, "log debug messages")
		verbose    = pflag.BoolP("verbose", "v", false, "log verbose messages")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, *debug, *verbose)
	if err := run(cfg, logger); err != nil {
		logger.Error("daemon failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, debug, verbose bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	level := log.WarnLevel
	switch cfg.Daemon.LogLevel {
	case "debug":
		level = log.DebugLevel
	case "info":
		level = log.InfoLevel
	case "error":
		level = log.ErrorLevel
	}
	if verbose {
		level = log.InfoLevel
	}
	if debug {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Everything is wired explicitly: no package-level state anywhere in the
	// core, so the ownership graph is visible right here.
	bus := notify.NewBus()

	sink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	pipe := audio.NewPipeline(sink, logger.With("component", "audio"))
	defer pipe.Close()

	sess := session.New(pipe, logger.With("component", "session"))
	cat := subsonic.NewSession(cfg.Subsonic.ServerURL, logger.With("component", "catalog"), sess.Callbacks())
	cat.SetRequestTimeout(time.Duration(cfg.Subsonic.Timeout) * time.Second)
	if cfg.Scrobbling.Server {
		cat.EnableServerScrobbling()
	}

	q := queue.New(bus, logger.With("component", "queue"), time.Now().UnixNano())
	q.SetPlayer(sess)
	sess.Bind(cat, q)

	// The pump has to be running before login: the outcome arrives as an
	// event.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		sess.Run(ctx)
	}()

	loginCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := sess.Login(loginCtx, cfg.Subsonic.Username, cfg.Subsonic.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	logger.Info("logged in", "server", cfg.Subsonic.ServerURL)
	if err := sess.WaitContainer(loginCtx); err != nil {
		return fmt.Errorf("waiting for playlists: %w", err)
	}

	dispatcher := command.New(q, cat, bus, logger.With("component", "command"), stop)

	if mgr := buildScrobbler(cfg, logger); mgr != nil {
		defer mgr.Close()
		watcher := scrobble.Attach(bus, mgr, logger.With("component", "scrobble"))
		defer watcher.Close()
	}

	statePath := cfg.Daemon.StateFile
	if statePath == "" {
		statePath, err = config.DefaultStatePath()
		if err != nil {
			return err
		}
	}
	keeper := savestate.Attach(bus, q, statePath, logger.With("component", "savestate"))
	if err := savestate.Restore(ctx, q, cat, statePath, logger.With("component", "savestate")); err != nil {
		logger.Warn("state restore failed", "err", err)
	}

	ctl := lineproto.New(dispatcher, logger.With("component", "lineproto"))
	if err := ctl.ListenAndServe(fmt.Sprintf("%s:%d", cfg.Daemon.ListenAddress, cfg.Daemon.ListenPort)); err != nil {
		return err
	}
	defer ctl.Close()

	if cfg.Daemon.WebEnabled {
		webSrv := web.New(dispatcher, logger.With("component", "web"))
		if err := webSrv.Start(fmt.Sprintf("%s:%d", cfg.Daemon.WebAddress, cfg.Daemon.WebPort)); err != nil {
			return err
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			webSrv.Shutdown(shutCtx)
		}()
	}

	// Periodic delivery health report, mirroring the output plugins of old.
	statsDone := make(chan struct{})
	defer close(statsDone)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := pipe.Stats()
				if stats.Stutters > 0 {
					logger.Warn("audio underflows", "stutters", stats.Stutters, "queued_frames", stats.QueuedFrames)
				}
			case <-statsDone:
				return
			}
		}
	}()

	logger.Info("daemon ready")

	select {
	case <-ctx.Done():
	case err := <-sess.Fatal():
		stop()
		<-pumpDone
		return err
	}

	// Orderly teardown: stop the transport, persist, then let the pump
	// unwind the catalog session.
	q.Stop()
	keeper.Save()
	<-pumpDone
	logger.Info("daemon stopped")
	return nil
}

func buildSink(cfg *config.Config, logger *log.Logger) (audio.OutputSink, error) {
	switch cfg.Audio.Sink {
	case "", "auto", "oto":
		return audio.NewOtoSink(logger.With("component", "sink")), nil
	case "stdout":
		return audio.NewWriterSink(os.Stdout), nil
	case "null":
		return audio.NullSink{}, nil
	default:
		return nil, fmt.Errorf("unknown audio sink %q", cfg.Audio.Sink)
	}
}

func buildScrobbler(cfg *config.Config, logger *log.Logger) *scrobbling.Manager {
	var services []scrobbling.Service
	if lf := cfg.Scrobbling.LastFM; lf.Enabled {
		services = append(services, scrobbling.NewLastFMClient(lf.APIKey, lf.Secret, lf.Username, lf.Password))
	}
	if lb := cfg.Scrobbling.ListenBrainz; lb.Enabled {
		services = append(services, scrobbling.NewListenBrainzClient(lb.Token))
	}
	if len(services) == 0 {
		return nil
	}
	return scrobbling.NewManager(logger.With("component", "scrobbling"), services...)
}
