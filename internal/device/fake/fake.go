// Package fake provides in-memory device implementations for tests.
//
// Every fake is safe for concurrent use and can be primed with a
// normalized error via Fail, which applies to the next call of any
// method and then clears.
package fake

import (
	"context"
	"sync"

	"github.com/ccatobs/pcs/internal/device"
)

type failer struct {
	mu   sync.Mutex
	next error
}

// Fail primes the next call to return err.
func (f *failer) Fail(err error) {
	f.mu.Lock()
	f.next = err
	f.mu.Unlock()
}

func (f *failer) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.next
	f.next = nil
	return err
}

// Commander records motion commands.
type Commander struct {
	failer

	mu    sync.Mutex
	calls []string
	az    float64
	el    float64
}

// NewCommander returns a Commander parked at az 180, el 60.
func NewCommander() *Commander {
	return &Commander{az: 180, el: 60}
}

func (c *Commander) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

// Calls returns the method names invoked so far, in order.
func (c *Commander) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Position returns the last commanded azimuth and elevation.
func (c *Commander) Position() (az, el float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.az, c.el
}

func (c *Commander) GoTo(ctx context.Context, az, el float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.take(); err != nil {
		return err
	}
	c.mu.Lock()
	c.az, c.el = az, el
	c.mu.Unlock()
	c.record("GoTo")
	return nil
}

func (c *Commander) AzScan(ctx context.Context, params device.ScanParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.take(); err != nil {
		return err
	}
	c.mu.Lock()
	c.az, c.el = params.AzimuthEnd, params.Elevation
	c.mu.Unlock()
	c.record("AzScan")
	return nil
}

func (c *Commander) UploadTrack(ctx context.Context, points []device.TrackPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.take(); err != nil {
		return err
	}
	if len(points) > 0 {
		last := points[len(points)-1]
		c.mu.Lock()
		c.az, c.el = last.Azimuth, last.Elevation
		c.mu.Unlock()
	}
	c.record("UploadTrack")
	return nil
}

func (c *Commander) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.take(); err != nil {
		return err
	}
	c.record("Stop")
	return nil
}

// TempController serves a scripted sequence of measurements, cycling
// through its channels like the real controller's scanner does.
type TempController struct {
	failer

	mu        sync.Mutex
	channels  []int
	next      int
	time      float64
	temps     map[int]float64
	setpoints map[int]float64
	ranges    map[int]float64

	// Advance controls whether the device timestamp moves between
	// reads. False simulates polling faster than the scanner.
	Advance bool
}

// NewTempController returns a controller with the given channels, all
// reading 4 K.
func NewTempController(channels ...int) *TempController {
	if len(channels) == 0 {
		channels = []int{1, 2, 5, 6}
	}
	temps := make(map[int]float64, len(channels))
	for _, ch := range channels {
		temps[ch] = 4.0
	}
	return &TempController{
		channels:  channels,
		time:      1.7e9,
		temps:     temps,
		setpoints: map[int]float64{},
		ranges:    map[int]float64{},
		Advance:   true,
	}
}

// SetTemp overrides the reading for one channel.
func (tc *TempController) SetTemp(channel int, kelvin float64) {
	tc.mu.Lock()
	tc.temps[channel] = kelvin
	tc.mu.Unlock()
}

func (tc *TempController) Channels(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tc.take(); err != nil {
		return nil, err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]int(nil), tc.channels...), nil
}

func (tc *TempController) LatestMeasurement(ctx context.Context) (device.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return device.Measurement{}, err
	}
	if err := tc.take(); err != nil {
		return device.Measurement{}, err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	ch := tc.channels[tc.next]
	m := device.Measurement{
		Channel:     ch,
		Time:        tc.time,
		Temperature: tc.temps[ch],
		Resistance:  1000.0 / tc.temps[ch],
	}
	if tc.Advance {
		tc.next = (tc.next + 1) % len(tc.channels)
		tc.time += 0.5
	}
	return m, nil
}

func (tc *TempController) SetSetpoint(ctx context.Context, channel int, kelvin float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tc.take(); err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, ok := tc.temps[channel]; !ok {
		return device.ErrNotFound
	}
	tc.setpoints[channel] = kelvin
	return nil
}

func (tc *TempController) SetHeaterRange(ctx context.Context, channel int, amps float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tc.take(); err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, ok := tc.temps[channel]; !ok {
		return device.ErrNotFound
	}
	tc.ranges[channel] = amps
	return nil
}

// Setpoint returns the last commanded setpoint for a channel.
func (tc *TempController) Setpoint(channel int) float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.setpoints[channel]
}

// HeaterRange returns the last commanded heater range for a channel.
func (tc *TempController) HeaterRange(channel int) float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.ranges[channel]
}

// Compressor serves fixed pressure and flow readings.
type Compressor struct {
	failer

	mu       sync.Mutex
	time     float64
	pressure []float64
	flow     float64
}

// NewCompressor returns a compressor with six nominal pressures.
func NewCompressor() *Compressor {
	return &Compressor{
		time:     1.7e9,
		pressure: []float64{13.1, 3.4, 19.8, 7.2, 0.9, 15.5},
		flow:     0.82,
	}
}

func (c *Compressor) Readings(ctx context.Context) (device.CompressorReadings, error) {
	if err := ctx.Err(); err != nil {
		return device.CompressorReadings{}, err
	}
	if err := c.take(); err != nil {
		return device.CompressorReadings{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := device.CompressorReadings{
		Time:      c.time,
		Pressures: append([]float64(nil), c.pressure...),
		Flow:      c.flow,
	}
	c.time += 1.0
	return r, nil
}

// PDU holds named outlets in memory.
type PDU struct {
	failer

	mu      sync.Mutex
	names   map[int]string
	on      map[int]bool
	cycles  int
	order   []int
}

// NewPDU returns a PDU with the given outlets, all on.
func NewPDU(outlets map[int]string) *PDU {
	on := make(map[int]bool, len(outlets))
	order := make([]int, 0, len(outlets))
	for num := range outlets {
		on[num] = true
		order = append(order, num)
	}
	// Deterministic outlet order for Outlets().
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if order[j] < order[i] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	return &PDU{names: outlets, on: on, order: order}
}

func (p *PDU) Outlets(ctx context.Context) ([]device.OutletState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.take(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]device.OutletState, 0, len(p.order))
	for _, num := range p.order {
		states = append(states, device.OutletState{Outlet: num, Name: p.names[num], On: p.on[num]})
	}
	return states, nil
}

func (p *PDU) SetOutlet(ctx context.Context, outlet int, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.take(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.on[outlet]; !ok {
		return device.ErrNotFound
	}
	p.on[outlet] = on
	return nil
}

func (p *PDU) CycleOutlet(ctx context.Context, outlet int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.take(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.on[outlet]; !ok {
		return device.ErrNotFound
	}
	p.cycles++
	p.on[outlet] = true
	return nil
}

// Cycles returns how many outlet cycles were requested.
func (p *PDU) Cycles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}
