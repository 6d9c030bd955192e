package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

// MediaToolsService shells out to ffmpeg for the audio preprocessing the
// transcription service expects: 16kHz mono WAV with the video stream
// stripped.
type MediaToolsService interface {
	// AssertReady verifies the ffmpeg binary is on PATH. Call once at boot;
	// a missing binary disables the download fallback, not the whole server.
	AssertReady() error
	// TranscodeToWAV converts inputPath into a 16kHz mono WAV next to it and
	// returns the output path.
	TranscodeToWAV(ctx context.Context, inputPath string) (string, error)
}

type mediaToolsService struct {
	log        *logger.Logger
	ffmpegPath string
}

func NewMediaToolsService(log *logger.Logger) (MediaToolsService, error) {
	serviceLog := log.With("service", "MediaToolsService")
	ffmpegPath := utils.GetEnv("FFMPEG_PATH", "ffmpeg", log)
	return &mediaToolsService{
		log:        serviceLog,
		ffmpegPath: ffmpegPath,
	}, nil
}

func (s *mediaToolsService) AssertReady() error {
	resolved, err := exec.LookPath(s.ffmpegPath)
	if err != nil {
		return fmt.Errorf("ffmpeg not found (looked for %q): %w", s.ffmpegPath, err)
	}
	s.log.Info("ffmpeg resolved", "path", resolved)
	return nil
}

func (s *mediaToolsService) TranscodeToWAV(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("transcode input missing: %w", err)
	}
	ext := filepath.Ext(inputPath)
	outputPath := strings.TrimSuffix(inputPath, ext) + ".wav"

	args := []string{
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-vn",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg transcode failed: %w (stderr: %s)", err, truncate(stderr.String(), 500))
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg produced no output for %s", inputPath)
	}
	s.log.Info("audio transcoded", "input", inputPath, "output", outputPath, "bytes", info.Size())
	return outputPath, nil
}
