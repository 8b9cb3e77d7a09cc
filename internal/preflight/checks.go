package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"clearskin/internal/config"
	"clearskin/internal/quiz"
	"clearskin/internal/services"
	"clearskin/internal/services/detector"
)

// CheckDetector verifies that the analysis service answers its health
// endpoint and reports a loaded model. It uses a short timeout and a single
// attempt (no retries).
func CheckDetector(ctx context.Context, cfg *config.Config) Result {
	const name = "Analysis service"

	if cfg == nil || cfg.Detector.BaseURL == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := detector.NewFromConfig(cfg, detector.WithRetryMaxAttempts(1))
	health, err := client.Health(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", client.BaseURL(), summarizeError(err))}
	}
	if !health.ModelLoaded {
		return Result{Name: name, Detail: fmt.Sprintf("%s (reachable, model not loaded)", client.BaseURL())}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (model loaded)", client.BaseURL())}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minBytes available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, humanBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(", need %s", humanBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckCatalog verifies that the questionnaire loads. An empty path checks
// the built-in catalog.
func CheckCatalog(path string) Result {
	const name = "Questionnaire"

	catalog, err := quiz.LoadCatalog(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	source := "built-in"
	if path != "" {
		source = path
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d questions (%s)", catalog.Len(), source)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrTimeout) {
		return "health check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out"
	}
	return services.FailureReason(err)
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
