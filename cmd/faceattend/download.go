package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type model struct {
	Name string
	URL  string
}

// models are the dlib files go-face loads from the model directory.
var models = []model{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download-models [DIR]",
	Short: "Download the dlib recognition models",
	Long:  `Fetches the dlib models into DIR (default recognition.model_path). Files already present are skipped.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	modelDir := cfg.Recognition.ModelPath
	if len(args) > 0 {
		modelDir = args[0]
	}
	log := logger.Component("download").WithField("dir", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	for _, m := range models {
		target := filepath.Join(modelDir, m.Name)
		if _, err := os.Stat(target); err == nil {
			log.WithField("model", m.Name).Info("Model already present, skipping")
			continue
		}

		if err := downloadAndExtract(client, m, target); err != nil {
			return fmt.Errorf("failed to download %s: %w", m.Name, err)
		}
		log.WithField("model", m.Name).Info("Model downloaded")
	}

	fmt.Println("All models are in place.")
	return nil
}

// downloadAndExtract streams a .bz2 file into target. The file is written
// under a temporary name first so an interrupted download is not mistaken
// for a complete model on the next run.
func downloadAndExtract(client *http.Client, m model, target string) error {
	resp, err := client.Get(m.URL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	partial := target + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(partial) }()

	bar := progressbar.DefaultBytes(resp.ContentLength, m.Name)
	body := io.TeeReader(resp.Body, bar)

	if _, err := io.Copy(out, bzip2.NewReader(body)); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(partial, target)
}
