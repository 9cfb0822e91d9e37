package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"mirrorfs/internal/config"
	"mirrorfs/internal/fs"
	"mirrorfs/internal/host"
	"mirrorfs/internal/logging"
	"mirrorfs/internal/storage"
	"mirrorfs/internal/volume"
)

var (
	logger = logging.GetLogger()
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	sourcePath := flag.String("source", "", "Source directory to mirror")
	mountPoint := flag.String("mount", "", "Mount point (default: first free letter under mount.base)")
	stateDir := flag.String("state", "", "State directory for the session record")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *sourcePath != "" {
		cfg.Root = filepath.Clean(*sourcePath)
	}
	if *mountPoint != "" {
		cfg.Mount.Point = filepath.Clean(*mountPoint)
	}
	if *stateDir != "" {
		cfg.StateDir = filepath.Clean(*stateDir)
	}
	if *verbose {
		cfg.Logging.Level = logging.LevelDebug.String()
	}

	if level, ok := logging.ParseLevel(cfg.Logging.Level); ok {
		logger.SetLevel(level)
	}

	if err := config.Validate(cfg); err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}

	logger.Info("Starting mirrorfs...")
	logger.Debug("Source path: %s", cfg.Root)
	logger.Debug("State directory: %s", cfg.StateDir)

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}

func run(cfg *config.Config) error {
	paths, err := fs.NewPathTranslator(cfg.Root, cfg.FS.ConfineSymlinks)
	if err != nil {
		return err
	}
	dispatcher := fs.NewDispatcher(paths, fs.NewHandleStore(), fs.NewCursorStore(), fs.Options{
		SyncWrites: cfg.FS.SyncWrites,
	})

	vol, err := volume.New(paths.Root(), cfg.Volume.Label, cfg.Volume.ID, cfg.Volume.SectorSize)
	if err != nil {
		return err
	}
	logger.Info("Volume %q (id %08x) backed by %s", vol.GetVolumeLabel(), vol.GetVolumeID(), vol.Root())

	store, err := storage.NewManager(cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	vfs := host.New(dispatcher, vol, host.Options{
		Workers:    cfg.Workers,
		AttrTTL:    cfg.FS.AttrTTL,
		Watch:      cfg.FS.Watch,
		AllowOther: cfg.Mount.AllowOther,
	})

	manager := volume.NewManager(vol, store, vfs, volume.Options{
		MountPoint:   cfg.Mount.Point,
		MountBase:    cfg.Mount.Base,
		MountTimeout: cfg.Mount.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		manager.Shutdown()
		return err
	}
	logger.Info("Filesystem mounted on %s and ready", manager.MountPoint())

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	manager.Shutdown()
	return nil
}
