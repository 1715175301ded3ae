package merge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader records uploads without any object store.
type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, _, objectName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, objectName)
	return "https://cdn.example.com/" + objectName, nil
}

// clipServer serves fake clip bytes keyed by path.
func clipServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "clip-bytes:%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPipeline(t *testing.T, up *fakeUploader) *Pipeline {
	t.Helper()
	p := New(config.MergeConfig{
		FFmpegBin:       "ffmpeg",
		WorkDir:         t.TempDir(),
		DownloadTimeout: 5 * time.Second,
	}, up)
	p.runFFmpeg = func(_ context.Context, _, listPath, outPath string) (string, error) {
		// Stand-in concat: verify the list exists and produce output.
		if _, err := os.Stat(listPath); err != nil {
			return "", err
		}
		return "", os.WriteFile(outPath, []byte("merged"), 0o644)
	}
	return p
}

func TestMerge_SortsInputsBySequence(t *testing.T) {
	srv := clipServer(t)
	up := &fakeUploader{}
	p := testPipeline(t, up)

	var gotList string
	inner := p.runFFmpeg
	p.runFFmpeg = func(ctx context.Context, bin, listPath, outPath string) (string, error) {
		data, err := os.ReadFile(listPath)
		require.NoError(t, err)
		gotList = string(data)
		return inner(ctx, bin, listPath, outPath)
	}

	// Deliberately out of order: output must follow sequence numbers.
	inputs := []models.MergeInput{
		{SequenceNumber: 2, ArtifactURL: srv.URL + "/b.mp4"},
		{SequenceNumber: 1, ArtifactURL: srv.URL + "/a.mp4"},
		{SequenceNumber: 3, ArtifactURL: srv.URL + "/c.mp4"},
	}

	job, err := p.Merge(context.Background(), inputs, nil)
	require.NoError(t, err)

	assert.Equal(t, models.MergeStatusCompleted, job.Status)
	assert.Equal(t, "https://cdn.example.com/merged/"+job.ID.String()+".mp4", job.OutputURL)
	assert.Equal(t, []int{1, 2, 3}, []int{
		job.Inputs[0].SequenceNumber,
		job.Inputs[1].SequenceNumber,
		job.Inputs[2].SequenceNumber,
	})

	lines := strings.Split(strings.TrimSpace(gotList), "\n")
	require.Len(t, lines, 3)
	// clip-000 downloaded first is sequence 1.
	assert.Contains(t, lines[0], "clip-000")
	assert.Contains(t, lines[2], "clip-002")
}

func TestMerge_RejectsFewerThanTwoInputs(t *testing.T) {
	p := testPipeline(t, &fakeUploader{})

	for _, inputs := range [][]models.MergeInput{
		nil,
		{{SequenceNumber: 1, ArtifactURL: "https://v/a.mp4"}},
	} {
		job, err := p.Merge(context.Background(), inputs, nil)
		assert.ErrorIs(t, err, ErrTooFewInputs)
		assert.Equal(t, models.MergeStatusFailed, job.Status)
		assert.Empty(t, job.OutputURL, "failed merge must produce no output artifact")
	}
}

func TestMerge_RejectsMissingArtifactURL(t *testing.T) {
	p := testPipeline(t, &fakeUploader{})

	inputs := []models.MergeInput{
		{SequenceNumber: 1, ArtifactURL: "https://v/a.mp4"},
		{SequenceNumber: 2},
	}
	job, err := p.Merge(context.Background(), inputs, nil)
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Contains(t, err.Error(), "sequence 2")
	assert.Equal(t, models.MergeStatusFailed, job.Status)
}

func TestMerge_DownloadFailure(t *testing.T) {
	srv := clipServer(t)
	p := testPipeline(t, &fakeUploader{})

	inputs := []models.MergeInput{
		{SequenceNumber: 1, ArtifactURL: srv.URL + "/a.mp4"},
		{SequenceNumber: 2, ArtifactURL: srv.URL + "/missing.mp4"},
	}
	job, err := p.Merge(context.Background(), inputs, nil)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, models.MergeStatusFailed, job.Status)
	assert.Empty(t, job.OutputURL)
}

func TestMerge_ConcatFailureLeavesNoOutput(t *testing.T) {
	srv := clipServer(t)
	up := &fakeUploader{}
	p := testPipeline(t, up)
	p.runFFmpeg = func(context.Context, string, string, string) (string, error) {
		return "muxing overhead exceeded", errors.New("exit status 1")
	}

	inputs := []models.MergeInput{
		{SequenceNumber: 1, ArtifactURL: srv.URL + "/a.mp4"},
		{SequenceNumber: 2, ArtifactURL: srv.URL + "/b.mp4"},
	}
	job, err := p.Merge(context.Background(), inputs, nil)
	assert.ErrorIs(t, err, ErrConcatFailed)
	assert.Equal(t, models.MergeStatusFailed, job.Status)
	assert.Empty(t, up.uploads, "nothing may be uploaded after a failed concat")
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "muxing overhead")
}

func TestMerge_UploadFailure(t *testing.T) {
	srv := clipServer(t)
	up := &fakeUploader{err: errors.New("bucket gone")}
	p := testPipeline(t, up)

	inputs := []models.MergeInput{
		{SequenceNumber: 1, ArtifactURL: srv.URL + "/a.mp4"},
		{SequenceNumber: 2, ArtifactURL: srv.URL + "/b.mp4"},
	}
	job, err := p.Merge(context.Background(), inputs, nil)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, models.MergeStatusFailed, job.Status)
}

func TestMerge_RetryAfterFailureSucceeds(t *testing.T) {
	srv := clipServer(t)
	up := &fakeUploader{err: errors.New("transient")}
	p := testPipeline(t, up)

	inputs := []models.MergeInput{
		{SequenceNumber: 1, ArtifactURL: srv.URL + "/a.mp4"},
		{SequenceNumber: 2, ArtifactURL: srv.URL + "/b.mp4"},
	}

	_, err := p.Merge(context.Background(), inputs, nil)
	require.Error(t, err)

	// Same ordered input set, next attempt succeeds.
	up.err = nil
	job, err := p.Merge(context.Background(), inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MergeStatusCompleted, job.Status)
}
