package device

import (
	"context"
)

// TrackPoint is one sample of a pre-computed telescope trajectory.
type TrackPoint struct {
	Time      float64 `json:"time"`
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

// ScanParams describes a constant-elevation azimuth scan.
type ScanParams struct {
	AzimuthStart float64 `json:"azimuth_start"`
	AzimuthEnd   float64 `json:"azimuth_end"`
	Elevation    float64 `json:"elevation"`
	Speed        float64 `json:"speed"`
	NumScans     int     `json:"num_scans"`
}

// Commander issues motion commands to the antenna control unit. The wire
// protocol behind it is the vendor's; callers see normalized errors only.
type Commander interface {
	// GoTo slews to a fixed azimuth and elevation and waits for the axes
	// to settle or ctx to end.
	GoTo(ctx context.Context, az, el float64) error

	// AzScan runs a back-and-forth azimuth scan at constant elevation.
	AzScan(ctx context.Context, params ScanParams) error

	// UploadTrack loads a time-stamped trajectory and starts tracking it.
	UploadTrack(ctx context.Context, points []TrackPoint) error

	// Stop halts all axes.
	Stop(ctx context.Context) error
}

// Measurement is one reading from a temperature controller channel.
type Measurement struct {
	Channel     int
	Time        float64
	Temperature float64
	Resistance  float64
}

// TempController reads and commands a cryostat temperature controller.
type TempController interface {
	// Channels lists the enabled measurement channels.
	Channels(ctx context.Context) ([]int, error)

	// LatestMeasurement returns the most recent reading. The controller
	// multiplexes channels, so consecutive calls may repeat a reading;
	// callers dedupe on Time.
	LatestMeasurement(ctx context.Context) (Measurement, error)

	// SetSetpoint sets the regulation target for a heater channel, in
	// kelvin.
	SetSetpoint(ctx context.Context, channel int, kelvin float64) error

	// SetHeaterRange sets the heater output range for a channel, in
	// amperes.
	SetHeaterRange(ctx context.Context, channel int, amps float64) error
}

// CompressorReadings is one poll of the compressor control unit.
type CompressorReadings struct {
	Time      float64
	Pressures []float64
	Flow      float64
}

// Compressor reads the helium compressor control unit.
type Compressor interface {
	Readings(ctx context.Context) (CompressorReadings, error)
}

// OutletState is one switched outlet of a power distribution unit.
type OutletState struct {
	Outlet int
	Name   string
	On     bool
}

// PDU controls a switched power distribution unit.
type PDU interface {
	// Outlets returns the state of every switched outlet.
	Outlets(ctx context.Context) ([]OutletState, error)

	// SetOutlet switches one outlet on or off.
	SetOutlet(ctx context.Context, outlet int, on bool) error

	// CycleOutlet power-cycles one outlet using the unit's built-in
	// cycle action.
	CycleOutlet(ctx context.Context, outlet int) error
}
