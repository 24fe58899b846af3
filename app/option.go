package app

import (
	"time"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/gatt"
	"github.com/embedble/centrald/ll"
	"github.com/embedble/centrald/radio"
)

// DeviceOption is the configuration surface a Device exposes to Option
// functions, grounded on the teacher's DeviceOption/Option functional-options
// pattern (option.go), retargeted from HCI transport/role selection to this
// stack's scan/connect/retry/profile configuration.
type DeviceOption interface {
	SetScanParams(filter ll.AdvFilter) error
	SetConnParams(params ll.ConnParams) error
	SetRetryPolicy(maxRetries int, retryDelay time.Duration) error
	SetAutoReconnect(enabled bool) error
	SetProfile(p gatt.Profile) error
	SetAuthHook(hook gatt.AuthHook) error
	SetRadio(d radio.Driver) error
	SetLogger(l ble.Logger) error
}

// Option configures a Device at construction time.
type Option func(DeviceOption) error

// OptScanParams overrides the advertisement filter used to recognize the
// target peripheral.
func OptScanParams(filter ll.AdvFilter) Option {
	return func(d DeviceOption) error { return d.SetScanParams(filter) }
}

// OptConnParams overrides the connection interval/latency/supervision
// timeout/window size proposed in CONNECT_REQ (§4.5).
func OptConnParams(params ll.ConnParams) Option {
	return func(d DeviceOption) error { return d.SetConnParams(params) }
}

// OptRetryPolicy sets the scan-retry count and back-off delay applied on
// connection failure (§4.10).
func OptRetryPolicy(maxRetries int, retryDelay time.Duration) Option {
	return func(d DeviceOption) error { return d.SetRetryPolicy(maxRetries, retryDelay) }
}

// OptAutoReconnect configures whether an unsolicited disconnect triggers
// an automatic reconnect attempt (§4.10).
func OptAutoReconnect(enabled bool) Option {
	return func(d DeviceOption) error { return d.SetAutoReconnect(enabled) }
}

// OptProfile forces profile selection to p, skipping SelectProfile's
// device-name/service-sweep heuristic.
func OptProfile(p gatt.Profile) Option {
	return func(d DeviceOption) error { return d.SetProfile(p) }
}

// OptAuthHook installs the post-profile-selection authentication callback
// (§4.9).
func OptAuthHook(hook gatt.AuthHook) Option {
	return func(d DeviceOption) error { return d.SetAuthHook(hook) }
}

// OptRadio overrides the radio.Driver a Device drives; defaults to a
// radio.Loopback pair when unset, for testing without hardware.
func OptRadio(drv radio.Driver) Option {
	return func(d DeviceOption) error { return d.SetRadio(drv) }
}

// OptLogger overrides the ble.Logger a Device and its layers log through.
func OptLogger(l ble.Logger) Option {
	return func(d DeviceOption) error { return d.SetLogger(l) }
}
