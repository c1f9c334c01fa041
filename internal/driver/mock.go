package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camfleet/camfleet-server/internal/models"
)

// MockDriver simulates a fleet of cameras. It backs the mock backend and
// the engine tests: latency, failures and hangs are injectable per
// device and operation.
type MockDriver struct {
	mu      sync.Mutex
	devices map[string]*mockDevice
	latency time.Duration

	failures map[string]*OpError
	hangs    map[string]struct{}
}

type mockDevice struct {
	info     DeviceInfo
	settings models.Settings
	choices  map[models.SettingName][]string
	captures int
}

// NewMockDriver creates a simulated driver with n devices
func NewMockDriver(n int) *MockDriver {
	d := &MockDriver{
		devices:  make(map[string]*mockDevice),
		failures: make(map[string]*OpError),
		hangs:    make(map[string]struct{}),
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("mock:001,%03d", i+1)
		d.devices[id] = &mockDevice{
			info: DeviceInfo{ID: id, DisplayName: fmt.Sprintf("Simulated Camera %d", i+1)},
			settings: models.Settings{
				models.SettingISO:          "100",
				models.SettingAperture:     "f/5.6",
				models.SettingShutterSpeed: "1/125",
				models.SettingFormat:       "JPEG (Standard)",
			},
			choices: map[models.SettingName][]string{
				models.SettingISO:          {"100", "200", "400", "800", "1600", "3200"},
				models.SettingAperture:     {"f/1.8", "f/2.8", "f/4", "f/5.6", "f/8", "f/11"},
				models.SettingShutterSpeed: {"1/1000", "1/500", "1/250", "1/125", "1/60", "1/30"},
				models.SettingFormat:       {"JPEG (Standard)", "JPEG (Fine)", "RAW", "RAW+JPEG"},
			},
		}
	}
	return d
}

// SetLatency makes every Invoke take at least d
func (m *MockDriver) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// FailWith makes the next calls of op against id fail with a typed error
func (m *MockDriver) FailWith(id string, op Op, kind FailureKind, msg string) {
	m.mu.Lock()
	m.failures[hookKey(id, op)] = &OpError{Kind: kind, Message: msg}
	m.mu.Unlock()
}

// ClearFailure removes an injected failure
func (m *MockDriver) ClearFailure(id string, op Op) {
	m.mu.Lock()
	delete(m.failures, hookKey(id, op))
	m.mu.Unlock()
}

// Hang makes op against id block until the caller's context expires
func (m *MockDriver) Hang(id string, op Op) {
	m.mu.Lock()
	m.hangs[hookKey(id, op)] = struct{}{}
	m.mu.Unlock()
}

// AddDevice registers an extra simulated device
func (m *MockDriver) AddDevice(id, displayName string) {
	m.mu.Lock()
	m.devices[id] = &mockDevice{
		info:     DeviceInfo{ID: id, DisplayName: displayName},
		settings: models.Settings{},
		choices:  map[models.SettingName][]string{},
	}
	m.mu.Unlock()
}

// RemoveDevice unplugs a simulated device
func (m *MockDriver) RemoveDevice(id string) {
	m.mu.Lock()
	delete(m.devices, id)
	m.mu.Unlock()
}

// Captures reports how many captures the device has performed
func (m *MockDriver) Captures(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev, ok := m.devices[id]; ok {
		return dev.captures
	}
	return 0
}

// Detect lists the simulated devices in id order
func (m *MockDriver) Detect(_ context.Context) ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]DeviceInfo, 0, len(m.devices))
	for _, dev := range m.devices {
		infos = append(infos, dev.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Invoke performs one simulated operation
func (m *MockDriver) Invoke(ctx context.Context, id string, op Op, params Params) (Result, error) {
	m.mu.Lock()
	latency := m.latency
	_, hang := m.hangs[hookKey(id, op)]
	failure := m.failures[hookKey(id, op)]
	dev, known := m.devices[id]
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if failure != nil {
		return Result{}, failure
	}
	if !known {
		return Result{}, &OpError{Kind: FailureCommunicationLost, Message: fmt.Sprintf("no device at %s", id)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch op {
	case OpGetSetting:
		value, ok := dev.settings[params.Setting]
		if !ok {
			return Result{}, &OpError{Kind: FailureRejected, Message: fmt.Sprintf("unsupported setting: %s", params.Setting)}
		}
		return Result{Payload: value, Choices: dev.choices[params.Setting]}, nil

	case OpSetSetting:
		choices, ok := dev.choices[params.Setting]
		if !ok {
			return Result{}, &OpError{Kind: FailureRejected, Message: fmt.Sprintf("unsupported setting: %s", params.Setting)}
		}
		if len(choices) > 0 && !contains(choices, params.Value) {
			return Result{}, &OpError{Kind: FailureRejected, Message: fmt.Sprintf("value %q not accepted for %s", params.Value, params.Setting)}
		}
		dev.settings[params.Setting] = params.Value
		return Result{Payload: params.Value}, nil

	case OpCapture:
		dev.captures++
		return Result{Payload: params.DestPath}, nil

	case OpPreview:
		return Result{Data: []byte("simulated-preview")}, nil

	default:
		return Result{}, &OpError{Kind: FailureUnknown, Message: fmt.Sprintf("unsupported operation: %s", op)}
	}
}

func hookKey(id string, op Op) string {
	return id + "/" + string(op)
}
