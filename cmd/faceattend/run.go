package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/attendance/sqlitestore"
	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/controller"
	"github.com/MrCodeEU/faceattend/pkg/display"
	"github.com/MrCodeEU/faceattend/pkg/gallery"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/matcher"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

var (
	runDryRun  bool
	runPreview string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the attendance kiosk",
	Long: `Opens the camera and records attendance for every enrolled face it sees,
once per person per day. Stops cleanly on SIGINT or SIGTERM.

The gallery, the attendance ledger and the recognition models are loaded
before the camera is opened; any failure there aborts startup.`,
	Args: cobra.NoArgs,
	RunE: runKiosk,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Recognise faces but keep attendance in memory only")
	runCmd.Flags().StringVar(&runPreview, "preview", "", "Write the annotated frame to this JPEG file (overrides display.preview_file)")
	rootCmd.AddCommand(runCmd)
}

func runKiosk(cmd *cobra.Command, args []string) error {
	log := logger.Component("run")

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := galleryFiles()
	if err != nil {
		return err
	}
	g, err := gallery.Load(cfg.GalleryPath(), files)
	if err != nil {
		return err
	}
	if g.Len() == 0 {
		log.Warn("Gallery is empty, every face will be reported as unknown")
	}
	log.WithField("identities", g.Len()).Info("Gallery loaded")

	store, err := openAttendanceStore(ctx, cfg, runDryRun)
	if err != nil {
		return err
	}
	ledger, err := attendance.Open(ctx, store, logger.Component("attendance"))
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() { _ = ledger.Close() }()

	rec := recognition.NewRecognizer()
	rec.SetDetectScale(cfg.Recognition.DetectScale)
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("%w (run 'faceattend download-models' first)", err)
	}
	defer func() { _ = rec.Close() }()

	worker := matcher.NewWorker(g, rec, cfg.Recognition.MatchThreshold, logger.Component("matcher"))

	cam, err := openCamera(cfg.Camera)
	if err != nil {
		return err
	}
	defer func() { _ = cam.Close() }()

	sink, err := newSink(cfg, runPreview)
	if err != nil {
		return err
	}

	ctrl := controller.New(rec, worker, ledger, controller.SettingsFromConfig(cfg), logger.Component("controller"))

	log.WithFields(logging.Fields{
		"device":    cfg.Camera.Device,
		"threshold": cfg.Recognition.MatchThreshold,
		"backend":   backendName(cfg, runDryRun),
	}).Info("Attendance kiosk started")

	return ctrl.Run(ctx, cam, sink)
}

// openAttendanceStore opens the configured ledger backend.
func openAttendanceStore(ctx context.Context, cfg *config.Config, dryRun bool) (attendance.Store, error) {
	if dryRun {
		return attendance.NewMemoryStore(), nil
	}

	switch cfg.Attendance.Backend {
	case config.BackendSQLite:
		s, err := sqlitestore.Open(ctx, cfg.AttendanceDBPath())
		if err != nil {
			return nil, &attendance.IOError{Op: "open", Err: err}
		}
		return s, nil
	default:
		s, err := attendance.NewCSVStore(cfg.AttendancePath())
		if err != nil {
			return nil, &attendance.IOError{Op: "open", Err: err}
		}
		return s, nil
	}
}

func backendName(cfg *config.Config, dryRun bool) string {
	if dryRun {
		return "memory"
	}
	return cfg.Attendance.Backend
}

func openCamera(c config.CameraConfig) (*camera.V4L2Camera, error) {
	cam := camera.NewCamera()
	if err := cam.SetResolution(c.Width, c.Height); err != nil {
		return nil, err
	}
	if err := cam.SetFrameRate(c.FPS); err != nil {
		return nil, err
	}
	if err := cam.Open(c.Device); err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}
	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("failed to start camera stream: %w", err)
	}
	return cam, nil
}

// newSink returns the preview writer, or a discarding sink when no
// preview file is configured.
func newSink(cfg *config.Config, override string) (controller.Sink, error) {
	path := cfg.Display.PreviewFile
	if override != "" {
		path = config.ExpandPath(override)
	}
	if path == "" {
		return display.Discard{}, nil
	}

	files, err := storage.NewFileStore(false)
	if err != nil {
		return nil, err
	}
	return display.NewPreviewWriter(path, cfg.Display.PreviewInterval(), files), nil
}
