package models

import (
	"time"
)

// Connectivity represents the engine's view of a device link
type Connectivity string

const (
	ConnectivityConnected    Connectivity = "CONNECTED"
	ConnectivityDisconnected Connectivity = "DISCONNECTED"
	ConnectivityError        Connectivity = "ERROR"
)

// SettingName identifies a camera configuration knob
type SettingName string

const (
	SettingISO          SettingName = "iso"
	SettingAperture     SettingName = "aperture"
	SettingShutterSpeed SettingName = "shutterSpeed"
	SettingFormat       SettingName = "format"
	SettingQuality      SettingName = "quality"
)

// Settings maps setting names to their current values.
// A missing key means the value is unknown or unchanged.
type Settings map[SettingName]string

// Clone returns an independent copy of the settings map
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Session represents the engine's live model of one connected or
// simulated device. ID is the stable device port/address string.
type Session struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName"`
	Connectivity Connectivity `json:"connectivity"`
	Busy         bool         `json:"busy"`
	Settings     Settings     `json:"settings,omitempty"`
	LastSeen     time.Time    `json:"lastSeen"`
	LastError    string       `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	out := *s
	out.Settings = s.Settings.Clone()
	return &out
}
