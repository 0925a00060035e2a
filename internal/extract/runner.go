package extract

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/spigell/hirebot/internal/utils"
	"go.uber.org/zap"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *zap.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	fields := []zap.Field{
		zap.String("cmd", name),
		zap.String("args", strings.Join(args, " ")),
		zap.Duration("duration", time.Since(start)),
	}

	if err != nil {
		r.logger.Error("exec failed", append(fields,
			zap.Error(err),
			zap.String("stderr", utils.TruncateForLog(errb.String(), 8<<10)),
		)...)
	} else {
		r.logger.Debug("exec ok", append(fields,
			zap.Int("stdout_bytes", out.Len()),
			zap.Int("stderr_bytes", errb.Len()),
		)...)
	}

	return out.Bytes(), errb.Bytes(), err
}
