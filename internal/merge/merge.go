// Package merge concatenates completed clips into a single artifact,
// ordered by sequence number. The merge is all-or-nothing: any failure
// leaves no partial output and never touches the input units.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/storage"
	"github.com/reelforge/reelforge/pkg/models"
)

// Sentinel errors for merge validation and execution.
var (
	ErrTooFewInputs    = errors.New("merge requires at least 2 completed videos")
	ErrMissingArtifact = errors.New("merge input missing artifact url")
	ErrDownloadFailed  = errors.New("downloading clip failed")
	ErrConcatFailed    = errors.New("concatenating clips failed")
	ErrUploadFailed    = errors.New("uploading merged artifact failed")
)

// Pipeline downloads, concatenates, and uploads clips.
type Pipeline struct {
	ffmpegBin string
	workDir   string
	client    *http.Client
	uploader  storage.Uploader

	// runFFmpeg is swapped in tests so no ffmpeg binary is needed.
	runFFmpeg func(ctx context.Context, bin, listPath, outPath string) (string, error)
}

// New creates a Pipeline.
func New(cfg config.MergeConfig, uploader storage.Uploader) *Pipeline {
	return &Pipeline{
		ffmpegBin: cfg.FFmpegBin,
		workDir:   cfg.WorkDir,
		client:    &http.Client{Timeout: cfg.DownloadTimeout},
		uploader:  uploader,
		runFFmpeg: runFFmpeg,
	}
}

// Merge validates and sorts the inputs, concatenates the referenced
// artifacts in sequence order, and uploads the single output. The
// input order does not matter; the output order is determined solely
// by sequence numbers. A failed merge can be retried with the same
// input set.
func (p *Pipeline) Merge(ctx context.Context, inputs []models.MergeInput, projectID *uuid.UUID) (*models.MergeJob, error) {
	job := &models.MergeJob{
		ID:        uuid.New(),
		ProjectID: projectID,
		Inputs:    sortedInputs(inputs),
		Status:    models.MergeStatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	if err := validate(job.Inputs); err != nil {
		return fail(job, err), err
	}

	dir, err := os.MkdirTemp(p.workDir, "reelforge-merge-")
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConcatFailed, err)
		return fail(job, err), err
	}
	defer os.RemoveAll(dir)

	listPath, err := p.fetchClips(ctx, job.Inputs, dir)
	if err != nil {
		return fail(job, err), err
	}

	outPath := filepath.Join(dir, "merged.mp4")
	stderr, err := p.runFFmpeg(ctx, p.ffmpegBin, listPath, outPath)
	if err != nil {
		err = fmt.Errorf("%w: %v: %s", ErrConcatFailed, err, tail(stderr, 500))
		return fail(job, err), err
	}

	objectName := fmt.Sprintf("merged/%s.mp4", job.ID)
	outputURL, err := p.uploader.Upload(ctx, outPath, objectName)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUploadFailed, err)
		return fail(job, err), err
	}

	now := time.Now().UTC()
	job.Status = models.MergeStatusCompleted
	job.OutputURL = outputURL
	job.CompletedAt = &now
	metrics.MergesTotal.WithLabelValues(models.MergeStatusCompleted).Inc()
	return job, nil
}

func validate(inputs []models.MergeInput) error {
	if len(inputs) < 2 {
		return ErrTooFewInputs
	}
	for _, in := range inputs {
		if in.ArtifactURL == "" {
			return fmt.Errorf("%w: sequence %d", ErrMissingArtifact, in.SequenceNumber)
		}
	}
	return nil
}

func sortedInputs(inputs []models.MergeInput) []models.MergeInput {
	out := make([]models.MergeInput, len(inputs))
	copy(out, inputs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// fetchClips downloads every input into dir and writes the ffmpeg
// concat list file, returning its path.
func (p *Pipeline) fetchClips(ctx context.Context, inputs []models.MergeInput, dir string) (string, error) {
	list, err := os.Create(filepath.Join(dir, "concat.txt"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConcatFailed, err)
	}
	defer list.Close()

	for i, in := range inputs {
		clipPath := filepath.Join(dir, fmt.Sprintf("clip-%03d.mp4", i))
		if err := p.download(ctx, in.ArtifactURL, clipPath); err != nil {
			return "", fmt.Errorf("%w: sequence %d: %v", ErrDownloadFailed, in.SequenceNumber, err)
		}
		if _, err := fmt.Fprintf(list, "file '%s'\n", clipPath); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConcatFailed, err)
		}
	}
	return list.Name(), nil
}

func (p *Pipeline) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func fail(job *models.MergeJob, err error) *models.MergeJob {
	msg := err.Error()
	job.Status = models.MergeStatusFailed
	job.ErrorMessage = &msg
	metrics.MergesTotal.WithLabelValues(models.MergeStatusFailed).Inc()
	return job
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
