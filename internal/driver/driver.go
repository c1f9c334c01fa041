package driver

import (
	"context"
	"fmt"

	"github.com/camfleet/camfleet-server/internal/models"
)

// Op identifies the single blocking operation a driver performs
type Op string

const (
	OpGetSetting Op = "GET_SETTING"
	OpSetSetting Op = "SET_SETTING"
	OpCapture    Op = "CAPTURE"
	OpPreview    Op = "PREVIEW"
)

// FailureKind classifies driver-reported failures
type FailureKind string

const (
	FailureCommunicationLost FailureKind = "COMMUNICATION_LOST"
	FailureRejected          FailureKind = "REJECTED"
	FailureBusy              FailureKind = "BUSY"
	FailureUnknown           FailureKind = "UNKNOWN"
)

// OpError is a typed driver failure
type OpError struct {
	Kind    FailureKind
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("driver %s: %s", e.Kind, e.Message)
}

// Params carries per-operation arguments
type Params struct {
	Setting  models.SettingName
	Value    string
	DestPath string
}

// Result carries the payload of a successful operation
type Result struct {
	Payload string   // setting value or saved file path
	Data    []byte   // preview image bytes
	Choices []string // supported values, populated on GET_SETTING
}

// DeviceInfo describes one detected device
type DeviceInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Driver performs exactly one blocking operation against a device.
// Implementations must honor ctx cancellation and deadlines; the engine
// treats a call that outlives its deadline as a timeout.
type Driver interface {
	// Detect discovers reachable devices. A partial or empty result is
	// not an error.
	Detect(ctx context.Context) ([]DeviceInfo, error)

	// Invoke performs one operation against the device at id and blocks
	// until it settles or ctx is done.
	Invoke(ctx context.Context, id string, op Op, params Params) (Result, error)
}
