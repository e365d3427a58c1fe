package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"arcade/server/internal/auth"
	"arcade/server/internal/config"
	"arcade/server/internal/db"
	"arcade/server/internal/ipc"
	"arcade/server/internal/logger"
	"arcade/server/internal/session"
	"arcade/server/internal/tcpserver"
	"arcade/server/internal/udpserver"
	"arcade/server/internal/utils"
	"arcade/server/internal/websocket"
	"arcade/server/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg := config.Config
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	var err error
	switch cmd {
	case "serve":
		err = runServe(cfg, args)
	case "worker":
		err = runWorker(cfg, args)
	case "ticket":
		err = runTicket(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|worker|ticket] [flags]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		logger.L.Fatal(cmd+" failed", zap.Error(err))
	}
}

func runServe(cfg *config.ConfigStruct, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.TCPPort, "control plane TCP port")
	mode := fs.String("mode", cfg.WorkerMode, "worker mode: process, goroutine or shared")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, ip := range utils.LocalAddresses() {
		logger.L.Info("reachable address", zap.String("ip", ip), zap.Int("port", *port))
	}

	recorder, results := openRecorders(ctx, cfg)
	defer recorder.Close()

	sessions := session.NewRegistry(cfg.MaxInputsPerSec, cfg.MaxShootsPerSec)
	launcher, err := newLauncher(strings.ToLower(*mode), cfg, sessions, recorder)
	if err != nil {
		return err
	}
	defer launcher.StopAll()

	hub := websocket.NewHub()
	srv, err := tcpserver.New(tcpserver.Options{
		Host:         cfg.TCPHost,
		Port:         *port,
		MaxClients:   cfg.MaxClients,
		Greeting:     cfg.Greeting,
		Auth:         auth.New(cfg.HandshakeToken, cfg.JWTSecret),
		ReadyTimeout: cfg.ReadyTimeout,
		UDPPortMin:   cfg.UDPPortMin,
		UDPPortMax:   cfg.UDPPortMax,
		AcceptRate:   cfg.AcceptRate,
		AcceptBurst:  cfg.AcceptBurst,
	}, sessions, launcher, hub.Publish)
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		go func() {
			rt := websocket.Routes{Hub: hub, Results: results, Launcher: launcher}
			if err := websocket.Serve(ctx, cfg.StatusAddr, rt); err != nil {
				logger.L.Error("status server", zap.Error(err))
			}
		}()
	}

	logger.L.Info("server starting", zap.Int("port", *port), zap.String("worker_mode", *mode))
	return srv.Run(ctx)
}

func simulationOptions(cfg *config.ConfigStruct) udpserver.Options {
	return udpserver.Options{
		Host:             cfg.TCPHost,
		TickInterval:     cfg.TickInterval,
		SnapshotInterval: cfg.SnapshotInterval,
	}
}

func newLauncher(mode string, cfg *config.ConfigStruct, sessions *session.Registry, recorder db.Recorder) (worker.Launcher, error) {
	switch mode {
	case worker.ModeProcess:
		return worker.NewProcessLauncher(cfg.WorkerBinary, cfg.ControlDir), nil
	case worker.ModeGoroutine:
		return worker.NewGoroutineLauncher(simulationOptions(cfg), recorder, cfg.MaxInputsPerSec, cfg.MaxShootsPerSec), nil
	case worker.ModeShared:
		opts := simulationOptions(cfg)
		opts.Port = cfg.SharedUDPPort
		return worker.NewSharedLauncher(opts, sessions, recorder), nil
	default:
		return nil, fmt.Errorf("unknown worker mode %q", mode)
	}
}

// openRecorders always logs results and also stores them in every configured database.
func openRecorders(ctx context.Context, cfg *config.ConfigStruct) (db.MultiRecorder, db.ResultReader) {
	var recs db.MultiRecorder
	if cfg.MySQLHost != "" {
		if r, err := db.OpenMySQL(ctx, cfg); err != nil {
			logger.L.Warn("mysql unavailable, results not stored there", zap.Error(err))
		} else {
			logger.L.Info("mysql connected", zap.String("host", cfg.MySQLHost))
			recs = append(recs, r)
		}
	}
	if cfg.MongoURI != "" {
		if r, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
			logger.L.Warn("mongo unavailable, results not stored there", zap.Error(err))
		} else {
			logger.L.Info("mongo connected", zap.String("database", cfg.MongoDB))
			recs = append(recs, r)
		}
	}
	var reader db.ResultReader
	if len(recs) > 0 {
		reader = recs
	}
	return append(recs, db.LogRecorder{}), reader
}

func runWorker(cfg *config.ConfigStruct, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	lobby := fs.String("lobby", "", "lobby code served by this worker")
	port := fs.Int("udp-port", 0, "datagram port to bind")
	control := fs.String("control", "", "control socket path of the parent")
	_ = fs.Parse(args)

	if *lobby == "" || *control == "" {
		return errors.New("worker needs --lobby and --control")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := ipc.DialUnix(*control)
	if err != nil {
		return err
	}
	defer ch.Close()

	recorder, _ := openRecorders(ctx, cfg)
	defer recorder.Close()

	opts := simulationOptions(cfg)
	opts.Port = *port
	opts.StaticLobby = *lobby
	opts.ExitWhenEmpty = true

	srv, err := udpserver.New(opts, session.NewRegistry(cfg.MaxInputsPerSec, cfg.MaxShootsPerSec), ch, recorder)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func runTicket(cfg *config.ConfigStruct, args []string) error {
	fs := flag.NewFlagSet("ticket", flag.ExitOnError)
	name := fs.String("name", "", "player name carried by the ticket")
	ttl := fs.Duration("ttl", time.Hour, "ticket lifetime (0 for none)")
	_ = fs.Parse(args)

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	ticket, err := auth.IssueTicket([]byte(cfg.JWTSecret), *name, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(ticket)
	return nil
}
