// Package convert produces canonical PDFs from heterogeneous source documents.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// busySignatures are output fragments that indicate the converter hit profile
// lock contention rather than an unconvertible document. Headless soffice
// reports the condition inconsistently across versions, so matching is
// substring based over lowercased output.
var busySignatures = []string{
	"is already running",
	"could not be locked",
	"failed to acquire",
	"pipe connection",
}

// Exit code soffice uses when it restarts after a crashed profile.
const sofficeRestartExit = 81

// SofficeClient drives a LibreOffice-compatible converter binary.
type SofficeClient struct {
	bin     string
	timeout time.Duration
	logger  *observability.Logger
}

// NewSofficeClient creates a client for the given converter binary. Each
// conversion is bounded by timeout.
func NewSofficeClient(bin string, timeout time.Duration, logger *observability.Logger) *SofficeClient {
	return &SofficeClient{bin: bin, timeout: timeout, logger: logger}
}

// Check verifies the converter binary is reachable. A missing converter
// aborts the whole run before any document is touched.
func (c *SofficeClient) Check() error {
	if strings.ContainsRune(c.bin, os.PathSeparator) {
		if _, err := os.Stat(c.bin); err != nil {
			return domain.ConfigError(fmt.Sprintf("converter binary %q not found", c.bin), err)
		}
		return nil
	}
	if _, err := exec.LookPath(c.bin); err != nil {
		return domain.ConfigError(fmt.Sprintf("converter binary %q not found in PATH", c.bin), err)
	}
	return nil
}

// busyError marks a conversion failure as transient converter contention.
type busyError struct{ err error }

func (e *busyError) Error() string { return e.err.Error() }
func (e *busyError) Unwrap() error { return e.err }

func isBusy(err error) bool {
	var be *busyError
	return errors.As(err, &be)
}

// ConvertToPDF converts src into outDir and returns the produced file path.
// profileDir isolates the converter's user profile so parallel invocations
// do not fight over a shared lock.
func (c *SofficeClient) ConvertToPDF(ctx context.Context, src, outDir, profileDir string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"--headless",
		"--norestore",
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--convert-to", "pdf",
		"--outdir", outDir,
		src,
	}
	cmd := exec.CommandContext(cctx, c.bin, args...)

	c.logger.Debug().
		Str("binary", c.bin).
		Str("source", src).
		Str("outdir", outDir).
		Msg("Running document converter")

	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return "", domain.ConversionError(fmt.Sprintf("conversion timed out after %s", c.timeout), nil)
	}
	if err != nil {
		conv := fmt.Errorf("converter failed: %w, output: %s", err, strings.TrimSpace(string(output)))
		if busyOutput(string(output)) || exitCode(err) == sofficeRestartExit {
			return "", &busyError{err: conv}
		}
		return "", conv
	}

	produced := filepath.Join(outDir, pdfName(src))
	if _, statErr := os.Stat(produced); statErr != nil {
		// soffice exits 0 for some unconvertible inputs and writes nothing.
		return "", fmt.Errorf("converter produced no output for %s: %s", filepath.Base(src), strings.TrimSpace(string(output)))
	}
	return produced, nil
}

// pdfName mirrors the converter's output naming: source stem plus ".pdf".
func pdfName(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
}

func busyOutput(output string) bool {
	lower := strings.ToLower(output)
	for _, sig := range busySignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
