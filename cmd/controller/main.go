package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/checkpoint"
	"github.com/danielpatrickdp/segment-replay/internal/config"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/health"
	"github.com/danielpatrickdp/segment-replay/internal/history"
	"github.com/danielpatrickdp/segment-replay/internal/keyframe"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/playback"
	"github.com/danielpatrickdp/segment-replay/internal/statusapi"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region main
func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before the environment")
	planPath := flag.String("plan", "", "plan location, overrides REPLAY_PLAN")
	feedPath := flag.String("feed", "-", "JSON lines frame feed, - for stdin")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *planPath != "" {
		cfg.PlanPath = *planPath
	}

	var feed io.Reader = os.Stdin
	if *feedPath != "-" {
		f, err := os.Open(*feedPath)
		if err != nil {
			log.Fatalf("open feed: %v", err)
		}
		defer f.Close()
		feed = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, feed); err != nil {
		log.Printf("controller: %v", err)
		stop()
		os.Exit(1)
	}
}
// #endregion main

// #region run
func run(ctx context.Context, cfg config.Config, feed io.Reader) error {
	// Resume a plan checkpointed before a restart, from its beginning.
	location := cfg.PlanPath
	if cp, err := checkpoint.Consume(cfg.CheckpointDir); err == nil {
		location = cp.PlanPath
	} else if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		log.Printf("[CHECKPOINT] ignoring checkpoint: %v", err)
	}

	objects, err := cfg.ObjectStoreSource()
	if err != nil {
		return err
	}
	loader := &plan.Loader{Store: objects}

	store, err := history.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	// Status API and metrics share one listener.
	status := statusapi.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", status.Handler())
	httpSrv := &http.Server{Addr: cfg.StatusAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[STATUS] server: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	hs := health.New()
	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen health %s: %w", cfg.HealthAddr, err)
	}
	go func() {
		if err := hs.Serve(lis); err != nil {
			log.Printf("[HEALTH] server: %v", err)
		}
	}()
	defer hs.Stop()

	src := &liveSource{}
	sink := &logSink{verbose: cfg.Verbose}
	host := newCommandHost(cfg.RestartCommand, cfg.QuitCommand)
	ctrl, env, err := newController(cfg, src, sink, host, store, func(st playback.Status) {
		status.Publish(st)
		hs.Observe(st)
	})
	if err != nil {
		return err
	}

	start := func() {
		if location == "" {
			log.Println("No plan configured, waiting for one (set REPLAY_PLAN or --plan).")
			return
		}
		p, err := loader.Load(ctx, location)
		if err != nil {
			log.Printf("[PLAN] %v", err)
			return
		}
		env.PlanPath = location
		p.Bind(env)
		ctrl.SetPlan(p)
		play(ctrl, cfg.Loop)
	}
	start()
	clearCheckpoint := func() {
		if err := checkpoint.Clear(cfg.CheckpointDir); err != nil {
			log.Printf("[CHECKPOINT] %v", err)
		}
	}

	reload := make(chan struct{}, 1)
	if cfg.Watch && location != "" {
		if _, _, remote := plan.ParseObjectURL(location); !remote {
			go func() {
				err := plan.Watch(ctx, location, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
				if err != nil {
					log.Printf("[PLAN] %v", err)
				}
			}()
		}
	}

	feedDone := make(chan error, 1)
	go func() { feedDone <- readFeed(ctx, feed, src) }()

	fmt.Println("Segment Replay Controller ready.")
	fmt.Printf("  Plan: %s | Status: http://%s/status | Health: %s\n", orNone(location), cfg.StatusAddr, cfg.HealthAddr)

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ctrl.Stop()
			log.Printf("[PLAYBACK] shutting down after %d frames, %d inputs", src.frames(), sink.sent)
			return nil
		case err := <-feedDone:
			feedDone = nil
			if err != nil {
				log.Printf("[FEED] %v", err)
			}
			log.Printf("[FEED] closed after %d frames", src.frames())
		case <-host.quitting:
			ctrl.Stop()
			log.Printf("[PLAYBACK] application quit, shutting down after %d frames", src.frames())
			return nil
		case c := <-status.Commands():
			apply(ctrl, c, start, clearCheckpoint)
		case <-reload:
			log.Printf("[PLAN] reloading %s", location)
			start()
		case <-ticker.C:
			before := ctrl.State()
			if err := ctrl.Tick(src.next()); err != nil {
				log.Printf("[PLAYBACK] %v", err)
			}
			if before == playback.Stopped || ctrl.State() != playback.Stopped {
				continue
			}
			if ok, known := ctrl.ReplayCompletedSuccessfully(); known {
				log.Printf("[PLAYBACK] run finished, success=%v", ok)
			}
			// a restart action checkpoints its plan; play it again from the beginning
			cp, err := checkpoint.Consume(cfg.CheckpointDir)
			switch {
			case err == nil:
				location = cp.PlanPath
				start()
			case !errors.Is(err, checkpoint.ErrNoCheckpoint):
				log.Printf("[CHECKPOINT] ignoring checkpoint: %v", err)
			}
		}
	}
}
// #endregion run

// #region wiring
// newController assembles the evaluators and the action environment around src.
func newController(cfg config.Config, src *liveSource, sink world.InputSink, host action.Host, rec playback.Recorder, publish func(playback.Status)) (*playback.Controller, *action.Env, error) {
	refs, err := evaluator.NewImageSource(cfg.ImageDir, cfg.ImageCache)
	if err != nil {
		return nil, nil, fmt.Errorf("image source: %w", err)
	}
	behaviours := action.NewRegistry()
	action.RegisterBuiltins(behaviours)
	log.Printf("[ACTION] behaviours available: %v", behaviours.Names())

	env := &action.Env{
		Input:         sink,
		Screen:        src,
		ScreenSize:    world.Size{Width: cfg.ScreenWidth, Height: cfg.ScreenHeight},
		Refs:          refs,
		Behaviours:    behaviours,
		CVTimeout:     cfg.CV.Timeout,
		Host:          host,
		CheckpointDir: cfg.CheckpointDir,
		Rand:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	kopts := keyframe.Options{Pixels: src}
	if cfg.CV.URL != "" {
		client := cvservice.NewClient(cfg.CVService())
		kopts.Text = evaluator.NewCVTextEvaluator(client, src, cfg.CV.Timeout)
		kopts.Image = evaluator.NewCVImageEvaluator(client, src, refs, cfg.CV.Timeout)
		kopts.Object = evaluator.NewCVObjectEvaluator(client, src, refs, cfg.CV.Timeout)
		env.Texts, env.Images, env.Objects = client, client, client
	} else {
		log.Println("[CV] CV_SERVICE_URL not set, CV criteria will stay unmatched")
	}

	ctrl := playback.New(keyframe.New(kopts), playback.Options{
		HaltOnFatal:  cfg.HaltOnFatal,
		PauseOnStall: cfg.PauseOnStall,
		Explore:      cfg.Explore,
		Recorder:     rec,
		Publish:      publish,
	})
	return ctrl, env, nil
}

func play(ctrl *playback.Controller, loop bool) {
	if loop {
		ctrl.Loop(func(n int) { log.Printf("[PLAYBACK] loop %d", n) })
		return
	}
	ctrl.Play()
}

// apply runs one remote command. A user stop drops any pending restart checkpoint.
func apply(ctrl *playback.Controller, c statusapi.Command, reload, clearCheckpoint func()) {
	log.Printf("[STATUS] command %s", c)
	switch c {
	case statusapi.CommandPlay:
		if ctrl.Plan() == nil {
			reload()
			return
		}
		play(ctrl, false)
	case statusapi.CommandLoop:
		play(ctrl, true)
	case statusapi.CommandPause:
		ctrl.Pause()
	case statusapi.CommandUnpause:
		ctrl.Unpause()
	case statusapi.CommandStop:
		ctrl.Stop()
		clearCheckpoint()
	case statusapi.CommandReset:
		ctrl.Reset()
	}
}
// #endregion wiring

// #region helpers
func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
// #endregion helpers
