package merge

import (
	"bytes"
	"context"
	"os/exec"
)

// runFFmpeg executes the stream-copy concat. Stderr is captured for
// error reporting; ffmpeg writes nothing useful to stdout here.
func runFFmpeg(ctx context.Context, bin, listPath, outPath string) (string, error) {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	return stderrBuf.String(), err
}
