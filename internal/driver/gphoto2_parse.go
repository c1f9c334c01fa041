package driver

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/camfleet/camfleet-server/internal/models"
)

// configAliases lists the config keys cameras use for each generic
// setting, most common first. Vendors disagree on naming, so each name
// is tried against the camera's reported configuration.
var configAliases = map[models.SettingName][]string{
	models.SettingISO:          {"iso", "isospeed", "iso speed", "isonumber"},
	models.SettingAperture:     {"aperture", "f-number", "fnumber"},
	models.SettingShutterSpeed: {"shutterspeed", "shutterspeed2", "exptime", "exposure time"},
	models.SettingFormat:       {"imageformat", "imagequality"},
	models.SettingQuality:      {"imagequality", "quality"},
}

var (
	configKeyRe     = regexp.MustCompile(`(?m)^([/\w\d.-]+)\s+Label:`)
	configSectionRe = regexp.MustCompile(`(?m)^(/[/\w\d.-]+)$`)
)

// parseAutoDetect parses the table printed by `gphoto2 --auto-detect`:
// a "Model ... Port" header, a separator line, then one camera per line
// with the port as the last usb: field.
func parseAutoDetect(out string) []DeviceInfo {
	lines := strings.Split(out, "\n")

	header := -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "Model") && strings.Contains(t, "Port") {
			header = i
			break
		}
	}
	if header < 0 || header+2 > len(lines) {
		return nil
	}

	var devices []DeviceInfo
	for _, line := range lines[header+2:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		port := fields[len(fields)-1]
		if !strings.HasPrefix(port, "usb:") {
			continue
		}
		model := strings.TrimSpace(strings.Join(fields[:len(fields)-1], " "))
		if model == "" {
			continue
		}
		devices = append(devices, DeviceInfo{ID: port, DisplayName: model})
	}
	return devices
}

// parseConfigNames extracts config keys from `gphoto2 --list-config`
func parseConfigNames(out string) []string {
	seen := make(map[string]struct{})
	var names []string

	add := func(matches [][]string) {
		for _, m := range matches {
			if _, ok := seen[m[1]]; !ok {
				seen[m[1]] = struct{}{}
				names = append(names, m[1])
			}
		}
	}
	add(configKeyRe.FindAllStringSubmatch(out, -1))
	add(configSectionRe.FindAllStringSubmatch(out, -1))
	return names
}

// findConfigName picks the camera's actual config key for a generic
// setting name, matching the key's last path segment first and the full
// key second
func findConfigName(setting models.SettingName, available []string) string {
	aliases := configAliases[setting]

	for _, alias := range aliases {
		for _, cand := range available {
			leaf := cand[strings.LastIndexByte(cand, '/')+1:]
			if strings.EqualFold(leaf, alias) {
				return cand
			}
		}
	}
	for _, alias := range aliases {
		for _, cand := range available {
			if strings.EqualFold(cand, alias) {
				return cand
			}
		}
	}
	return ""
}

// parseGetConfig extracts the current value and the choice list from
// `gphoto2 --get-config` output. Some cameras report the current value
// as an index into the choice list.
func parseGetConfig(out string) (string, []string) {
	var (
		raw     string
		choices []string
	)

	for _, line := range strings.Split(out, "\n") {
		t := strings.TrimSpace(line)
		lower := strings.ToLower(t)
		switch {
		case strings.HasPrefix(lower, "current:"):
			raw = strings.TrimSpace(t[len("current:"):])
		case strings.HasPrefix(lower, "choice:"):
			parts := strings.SplitN(t, " ", 3)
			var val string
			if len(parts) == 3 {
				val = strings.TrimSpace(parts[2])
			} else if len(parts) == 2 {
				if _, err := strconv.Atoi(parts[1]); err != nil {
					val = strings.TrimSpace(parts[1])
				}
			}
			if val != "" && !contains(choices, val) {
				choices = append(choices, val)
			}
		}
	}

	value := raw
	if len(choices) > 0 && raw != "" && !contains(choices, raw) {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 && idx < len(choices) {
			value = choices[idx]
		}
	}
	return value, choices
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// stderr fragments that mean the device link itself is unhealthy
var communicationErrors = []string{
	"could not claim the usb device",
	"could not lock the device",
	"ptp i/o error",
	"camera is busy",
	"timeout reading from or writing to the port",
	"unknown port",
	"could not find the requested device",
	"no camera found",
}

// stderr fragments that mean the camera declined the request
var rejectionErrors = []string{
	"bad value",
	"value out of range",
	"invalid value",
	"not supported",
	"read-only",
	"could not set config",
}

func hasCriticalCaptureError(stderr string) bool {
	return strings.Contains(stderr, "ERROR: Could not capture") ||
		strings.Contains(stderr, "PTP I/O Error")
}

// classifyFailure turns a gphoto2 process failure into a typed OpError
func classifyFailure(err error, stderr string) *OpError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &OpError{Kind: FailureCommunicationLost, Message: "gphoto2 did not respond before the deadline"}
	}

	lower := strings.ToLower(stderr)
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}

	if strings.Contains(lower, "camera is busy") {
		return &OpError{Kind: FailureBusy, Message: msg}
	}
	for _, frag := range communicationErrors {
		if strings.Contains(lower, frag) {
			return &OpError{Kind: FailureCommunicationLost, Message: msg}
		}
	}
	for _, frag := range rejectionErrors {
		if strings.Contains(lower, frag) {
			return &OpError{Kind: FailureRejected, Message: msg}
		}
	}
	return &OpError{Kind: FailureUnknown, Message: msg}
}
