// Package gatt is the GATT client facade (§4.9): profile selection against
// a small set of known bracelet-style peripherals, fixed-handle
// characteristic access, MTU-bounded text fragmentation, and a pluggable
// authentication hook, all layered on an att.Client.
package gatt

// WellKnownUUID names the 16-bit attribute/service UUIDs this stack
// recognizes. The GATT spec base UUIDs plus the two services the
// distilled profile-selection rule names (Xiaomi, Nordic UART) and a
// handful more from original_source's ble_gatt.h, carried per SPEC_FULL's
// supplemented-features section since service/profile matching benefits
// from the fuller table.
type WellKnownUUID uint16

const (
	UUIDPrimaryService      WellKnownUUID = 0x2800
	UUIDSecondaryService    WellKnownUUID = 0x2801
	UUIDCharacteristic      WellKnownUUID = 0x2803
	UUIDCharUserDescription WellKnownUUID = 0x2901
	UUIDCharClientConfig    WellKnownUUID = 0x2902 // CCCD

	UUIDGenericAccessService    WellKnownUUID = 0x1800
	UUIDGenericAttributeService WellKnownUUID = 0x1801
	UUIDDeviceInfoService       WellKnownUUID = 0x180A
	UUIDHeartRateService        WellKnownUUID = 0x180D
	UUIDBatteryService          WellKnownUUID = 0x180F

	UUIDNordicUARTService WellKnownUUID = 0xFFE0
	UUIDXiaomiService     WellKnownUUID = 0xFEE0
)

// DeviceNameHandle is the fixed attribute handle this stack probes first
// during profile selection (§4.9).
const DeviceNameHandle = 0x0003
