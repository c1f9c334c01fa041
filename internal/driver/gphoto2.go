package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/models"
)

// Gphoto2Driver drives real cameras through the gphoto2 command-line tool.
// Every Invoke runs one gphoto2 process against one port.
type Gphoto2Driver struct {
	bin            string
	captureTimeout time.Duration

	mu       sync.Mutex
	resolved map[string]map[models.SettingName]string // port -> generic -> actual config name
}

// NewGphoto2Driver creates a gphoto2-backed driver
func NewGphoto2Driver(cfg *config.DriverConfig) *Gphoto2Driver {
	return &Gphoto2Driver{
		bin:            cfg.Gphoto2Bin,
		captureTimeout: cfg.CaptureTimeout,
		resolved:       make(map[string]map[models.SettingName]string),
	}
}

// Detect discovers connected cameras via --auto-detect
func (d *Gphoto2Driver) Detect(ctx context.Context) ([]DeviceInfo, error) {
	stdout, stderr, err := d.run(ctx, "", "--auto-detect")
	if err != nil {
		return nil, fmt.Errorf("auto-detect: %w (%s)", err, strings.TrimSpace(stderr))
	}
	return parseAutoDetect(stdout), nil
}

// Invoke performs one blocking gphoto2 operation against the camera at id
func (d *Gphoto2Driver) Invoke(ctx context.Context, id string, op Op, params Params) (Result, error) {
	switch op {
	case OpGetSetting:
		return d.getSetting(ctx, id, params.Setting)
	case OpSetSetting:
		return d.setSetting(ctx, id, params.Setting, params.Value)
	case OpCapture:
		return d.capture(ctx, id, params.DestPath)
	case OpPreview:
		return d.preview(ctx, id)
	default:
		return Result{}, &OpError{Kind: FailureUnknown, Message: fmt.Sprintf("unsupported operation: %s", op)}
	}
}

func (d *Gphoto2Driver) getSetting(ctx context.Context, port string, setting models.SettingName) (Result, error) {
	name, err := d.resolveConfigName(ctx, port, setting)
	if err != nil {
		return Result{}, err
	}

	stdout, stderr, err := d.run(ctx, port, "--get-config", name)
	if err != nil {
		return Result{}, failure(ctx, err, stderr)
	}

	value, choices := parseGetConfig(stdout)
	return Result{Payload: value, Choices: choices}, nil
}

func (d *Gphoto2Driver) setSetting(ctx context.Context, port string, setting models.SettingName, value string) (Result, error) {
	name, err := d.resolveConfigName(ctx, port, setting)
	if err != nil {
		return Result{}, err
	}

	_, stderr, err := d.run(ctx, port, "--set-config", fmt.Sprintf("%s=%s", name, value))
	if err != nil {
		return Result{}, failure(ctx, err, stderr)
	}
	return Result{Payload: value}, nil
}

func (d *Gphoto2Driver) capture(ctx context.Context, port, destPath string) (Result, error) {
	if d.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.captureTimeout)
		defer cancel()
	}

	stdout, stderr, err := d.run(ctx, port,
		"--capture-image-and-download", "--filename", destPath, "--force-overwrite")
	if err != nil {
		removeIncomplete(destPath)
		return Result{}, failure(ctx, err, stderr)
	}

	// gphoto2 can exit zero and still fail; trust the file, not the exit code
	fi, statErr := os.Stat(destPath)
	if statErr != nil || fi.Size() == 0 {
		removeIncomplete(destPath)
		msg := "capture command succeeded but no image was written"
		if s := strings.TrimSpace(stderr); s != "" {
			msg = s
		}
		return Result{}, &OpError{Kind: FailureUnknown, Message: msg}
	}

	log.Debug().Str("port", port).Str("file", destPath).Str("stdout", firstLine(stdout)).Msg("Capture downloaded")
	return Result{Payload: destPath}, nil
}

func (d *Gphoto2Driver) preview(ctx context.Context, port string) (Result, error) {
	cmd := exec.CommandContext(ctx, d.bin, "--port", port, "--capture-preview", "--stdout")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, failure(ctx, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return Result{}, &OpError{Kind: FailureUnknown, Message: "empty preview response"}
	}
	return Result{Data: stdout.Bytes()}, nil
}

// resolveConfigName maps a generic setting name to the camera's actual
// config key, listing the camera's configuration once per port
func (d *Gphoto2Driver) resolveConfigName(ctx context.Context, port string, setting models.SettingName) (string, error) {
	d.mu.Lock()
	if byName, ok := d.resolved[port]; ok {
		if actual, ok := byName[setting]; ok {
			d.mu.Unlock()
			return actual, nil
		}
	}
	d.mu.Unlock()

	stdout, stderr, err := d.run(ctx, port, "--list-config")
	if err != nil {
		return "", failure(ctx, err, stderr)
	}

	actual := findConfigName(setting, parseConfigNames(stdout))
	if actual == "" {
		return "", &OpError{Kind: FailureRejected, Message: fmt.Sprintf("camera exposes no config for %s", setting)}
	}

	d.mu.Lock()
	if d.resolved[port] == nil {
		d.resolved[port] = make(map[models.SettingName]string)
	}
	d.resolved[port][setting] = actual
	d.mu.Unlock()

	log.Debug().Str("port", port).Str("setting", string(setting)).Str("config", actual).Msg("Resolved config name")
	return actual, nil
}

// ForgetPort drops cached config names, forcing re-resolution after a
// reset/detect cycle
func (d *Gphoto2Driver) ForgetPort(port string) {
	d.mu.Lock()
	delete(d.resolved, port)
	d.mu.Unlock()
}

// run executes one gphoto2 invocation, optionally scoped to a port
func (d *Gphoto2Driver) run(ctx context.Context, port string, args ...string) (string, string, error) {
	full := make([]string, 0, len(args)+2)
	if port != "" {
		full = append(full, "--port", port)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, d.bin, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("port", port).Strs("args", args).Msg("Running gphoto2")
	err := cmd.Run()
	if err == nil && isCaptureCommand(args) && hasCriticalCaptureError(stderr.String()) {
		// zero exit with a capture error on stderr still counts as failure
		err = errors.New("capture error reported on stderr")
	}
	return stdout.String(), stderr.String(), err
}

// failure prefers the context's own error, so a process killed by the
// caller's deadline surfaces as a timeout rather than a device fault
func failure(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return classifyFailure(err, stderr)
}

func isCaptureCommand(args []string) bool {
	for _, a := range args {
		if a == "--capture-image-and-download" || a == "--capture-image" {
			return true
		}
	}
	return false
}

func removeIncomplete(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err == nil {
		log.Debug().Str("file", path).Msg("Removed incomplete capture file")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
