package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/gallery"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

var enrollShots int

var enrollCmd = &cobra.Command{
	Use:   "enroll NAME [IMAGE...]",
	Short: "Enroll a person from photos or from the camera",
	Long: `Computes a face signature for NAME and stores it in the gallery.

With IMAGE arguments, every photo must show exactly one face; the signatures
are averaged. Without images, --shots frames are captured from the camera.
Names are stored upper-case with spaces replaced by underscores.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

var importCmd = &cobra.Command{
	Use:   "import DIR",
	Short: "Enroll everyone in a directory of photos, one file per person",
	Long:  `Each JPEG or PNG file in DIR is enrolled under its file name without extension.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled people",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a person from the gallery",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	enrollCmd.Flags().IntVar(&enrollShots, "shots", 3, "Frames to capture when no images are given")
	rootCmd.AddCommand(enrollCmd, importCmd, listCmd, removeCmd)
}

func loadRecognizer() (*recognition.DlibRecognizer, error) {
	rec := recognition.NewRecognizer()
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'faceattend download-models' first)", err)
	}
	return rec, nil
}

func newBar(count int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := gallery.NormalizeName(args[0])
	if name == "" {
		return errors.New("name must not be empty")
	}
	log := logger.Component("enroll").WithField("name", name)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	rec, err := loadRecognizer()
	if err != nil {
		return err
	}
	defer func() { _ = rec.Close() }()

	var descriptors []recognition.Descriptor
	if len(args) > 1 {
		descriptors = descriptorsFromFiles(rec, args[1:])
	} else {
		descriptors, err = descriptorsFromCamera(rec, enrollShots)
		if err != nil {
			return err
		}
	}
	if len(descriptors) == 0 {
		return fmt.Errorf("no usable face found for %s", name)
	}

	files, err := galleryFiles()
	if err != nil {
		return err
	}
	id := gallery.Identity{Name: name, Signature: recognition.AverageDescriptors(descriptors)}
	if err := gallery.Put(cfg.GalleryPath(), files, id); err != nil {
		return fmt.Errorf("failed to save gallery: %w", err)
	}

	log.WithField("samples", len(descriptors)).Info("Identity enrolled")
	fmt.Printf("Enrolled %s from %d sample(s).\n", name, len(descriptors))
	return nil
}

func descriptorsFromFiles(rec *recognition.DlibRecognizer, paths []string) []recognition.Descriptor {
	log := logger.Component("enroll")
	bar := newBar(len(paths), "Encoding photos")

	var descriptors []recognition.Descriptor
	for _, p := range paths {
		d, err := rec.DescriptorFromFile(p)
		_ = bar.Add(1)
		if err != nil {
			log.WithError(err).WithField("file", p).Warn("Skipping photo")
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors
}

func descriptorsFromCamera(rec *recognition.DlibRecognizer, shots int) ([]recognition.Descriptor, error) {
	if shots <= 0 {
		return nil, fmt.Errorf("--shots must be positive, got %d", shots)
	}
	log := logger.Component("enroll")

	cam, err := openCamera(cfg.Camera)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cam.Close() }()
	// Single captures are enough here; no need for the MJPEG stream.
	_ = cam.StopStreaming()

	fmt.Println("Look directly at the camera...")
	frames, err := cam.CaptureMultiple(shots, 500*time.Millisecond)
	if err != nil && len(frames) == 0 {
		return nil, fmt.Errorf("failed to capture frames: %w", err)
	}

	var descriptors []recognition.Descriptor
	for i, f := range frames {
		d, err := rec.DescriptorFromImage(f.Data)
		if err != nil {
			log.WithError(err).WithField("shot", i+1).Warn("Skipping frame")
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	log := logger.Component("import")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var photos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			photos = append(photos, e.Name())
		}
	}
	if len(photos) == 0 {
		return fmt.Errorf("no photos found in %s", dir)
	}
	sort.Strings(photos)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	rec, err := loadRecognizer()
	if err != nil {
		return err
	}
	defer func() { _ = rec.Close() }()

	files, err := galleryFiles()
	if err != nil {
		return err
	}

	bar := newBar(len(photos), "Importing")
	imported := 0
	for _, p := range photos {
		name := gallery.NormalizeName(strings.TrimSuffix(p, filepath.Ext(p)))
		d, err := rec.DescriptorFromFile(filepath.Join(dir, p))
		_ = bar.Add(1)
		if err != nil {
			log.WithError(err).WithField("file", p).Warn("Skipping photo")
			continue
		}
		if err := gallery.Put(cfg.GalleryPath(), files, gallery.Identity{Name: name, Signature: d}); err != nil {
			return fmt.Errorf("failed to save gallery: %w", err)
		}
		imported++
	}

	fmt.Printf("Imported %d of %d photo(s).\n", imported, len(photos))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	files, err := galleryFiles()
	if err != nil {
		return err
	}

	g, err := gallery.Load(cfg.GalleryPath(), files)
	if errors.Is(err, storage.ErrFileNotFound) || (err == nil && g.Len() == 0) {
		fmt.Println("No one enrolled.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println("Enrolled people:")
	for i, name := range g.Names() {
		fmt.Printf("  %3d. %s\n", i+1, name)
	}
	fmt.Printf("\nTotal: %d\n", g.Len())
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := gallery.NormalizeName(args[0])

	files, err := galleryFiles()
	if err != nil {
		return err
	}

	if err := gallery.Remove(cfg.GalleryPath(), files, name); err != nil {
		if errors.Is(err, gallery.ErrIdentityNotFound) {
			return fmt.Errorf("%s is not enrolled", name)
		}
		return err
	}

	logger.Component("enroll").WithField("name", name).Info("Identity removed")
	fmt.Printf("%s has been removed.\n", name)
	return nil
}
