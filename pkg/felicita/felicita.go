package felicita

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/perchscale/pkg/scale"
)

const (
	defaultDeviceName  = "FELICITA"
	dataService        = "ffe0"
	dataCharacteristic = "ffe1"

	minBatteryLevel = 129.
	maxBatteryLevel = 158.

	cmdTare = 0x54

	payloadLength = 18

	// A reading older than this is not considered current anymore
	defaultStaleAfter = 5 * time.Second

	// Number of stale periods after which the link is considered lost
	staleLimit = 3
)

// Felicita denotes a Felicita bluetooth scale
type Felicita struct {
	mu sync.RWMutex

	connectionStatus scale.ConnectionStatus
	batteryLevel     byte
	lastData         scale.DataPoint
	hasReceivedData  bool

	deviceID   string
	deviceName string
	staleAfter time.Duration

	readyChan chan struct{}
	readyOnce sync.Once
	errChan   chan error
	doneChan  chan struct{}
	doneOnce  sync.Once

	btDevice         gatt.Device
	btPeripheral     gatt.Peripheral
	btCharacteristic *gatt.Characteristic

	logger scale.Logger
}

// New instantiates a new Felicita struct, executing functional options, if any
func New(options ...func(*Felicita)) (*Felicita, error) {

	// Initialize a new instance of a Felicita scale
	f := newFelicita()

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}

	// Initialize a new GATT device (if not provided as option)
	if f.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, err
		}
		f.btDevice = btDevice
	}

	return f, nil
}

func newFelicita() *Felicita {
	return &Felicita{
		deviceName: defaultDeviceName,
		staleAfter: defaultStaleAfter,
		readyChan:  make(chan struct{}),
		errChan:    make(chan error, 1),
		doneChan:   make(chan struct{}),
		logger:     &scale.NullLogger{},
	}
}

// Connect starts scanning for the scale and blocks until it has delivered its
// first reading, the connection failed or ctx is done
func (f *Felicita) Connect(ctx context.Context) error {
	f.mu.RLock()
	btDevice := f.btDevice
	f.mu.RUnlock()
	if btDevice == nil {
		return fmt.Errorf("failed to connect uninitialized or released device")
	}

	if err := f.subscribe(btDevice); err != nil {
		return fmt.Errorf("failed to initialize bluetooth device: %w", err)
	}

	select {
	case <-f.readyChan:
		return nil
	case err := <-f.errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect terminates the connection to the device and releases the
// Bluetooth adapter. The handle cannot be connected again afterwards
func (f *Felicita) Disconnect() error {
	f.mu.Lock()
	btDevice, p := f.btDevice, f.btPeripheral
	f.btDevice = nil
	f.mu.Unlock()

	if btDevice == nil {
		return scale.ErrNotConnected
	}

	f.doneOnce.Do(func() {
		close(f.doneChan)
	})

	_ = btDevice.StopScanning()
	if p != nil {
		_ = btDevice.CancelConnection(p)
	}

	f.setStatus(scale.StateDisconnected, nil)

	// The HCI socket is bound exclusively, it has to be closed for the next
	// handle to be able to open the adapter
	var errs []error
	if err := btDevice.RemoveAllServices(); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove services: %w", err))
	}
	if err := btDevice.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bluetooth device: %w", err))
	}

	return errors.Join(errs...)
}

// IsConnected returns if the scale is connected and delivering data
func (f *Felicita) IsConnected() bool {
	return f.ConnectionStatus().State == scale.StateConnected
}

// ConnectionStatus returns the current status of the bluetooth device
func (f *Felicita) ConnectionStatus() scale.ConnectionStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connectionStatus
}

// ID returns the bluetooth address of the scale (or its name if unknown yet)
func (f *Felicita) ID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.btPeripheral != nil {
		return f.btPeripheral.ID()
	}
	if f.deviceID != "" {
		return f.deviceID
	}
	return f.deviceName
}

// Weight returns the most recent weight in grams. If no data has arrived for
// several stale periods the link is marked as lost
func (f *Felicita) Weight() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.hasReceivedData {
		return 0, scale.ErrNoReading
	}
	if age := time.Since(f.lastData.TimeStamp); f.staleAfter > 0 && age > f.staleAfter {
		if age > staleLimit*f.staleAfter && f.connectionStatus.State == scale.StateConnected {
			f.logger.Warnf("no data received for %v, considering link lost", age.Round(time.Second))
			f.connectionStatus = scale.ConnectionStatus{
				State: scale.StateDisconnected,
				Error: fmt.Errorf("no data received for %v", age.Round(time.Second)),
			}
		}
		return 0, fmt.Errorf("%w: last reading is %v old", scale.ErrNoReading, age.Round(time.Second))
	}

	return f.lastData.Grams(), nil
}

// BatteryLevel returns the current battery level in percent
func (f *Felicita) BatteryLevel() (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.hasReceivedData {
		return 0, scale.ErrNoReading
	}

	return parseBatteryLevel(f.batteryLevel), nil
}

// BatteryLevelRaw returns the current battery level in its raw form
func (f *Felicita) BatteryLevelRaw() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.batteryLevel)
}

// Tare tares the scale
func (f *Felicita) Tare() error {
	return f.write(cmdTare)
}

////////////////////////////////////////////////////////////////////////////////

func (f *Felicita) subscribe(btDevice gatt.Device) error {

	// Register handlers
	btDevice.Handle(
		gatt.AddPeripheralDiscovered(f.genOnPeriphDiscovered()),
		gatt.AddPeripheralConnected(f.onPeriphConnected),
		gatt.AddPeripheralDisconnected(f.onPeriphDisconnected),
	)

	// Initialize the device
	return btDevice.Init(f.onStateChanged)
}

func (f *Felicita) setStatus(state scale.State, err error) {
	f.mu.Lock()
	f.connectionStatus = scale.ConnectionStatus{
		State: state,
		Error: err,
	}
	f.mu.Unlock()
}

func (f *Felicita) fail(err error) {
	select {
	case f.errChan <- err:
	default:
	}
}

func (f *Felicita) write(cmd byte) error {
	f.mu.RLock()
	p, c := f.btPeripheral, f.btCharacteristic
	f.mu.RUnlock()

	if p == nil || c == nil {
		return fmt.Errorf("failed to write to uninitialized device")
	}

	return p.WriteCharacteristic(c, []byte{cmd}, false)
}

////////////////////////////////////////////////////////////////////////////////

func (f *Felicita) onStateChanged(d gatt.Device, s gatt.State) {
	switch s {
	case gatt.StatePoweredOn:
		f.setStatus(scale.StateScanning, nil)
		if err := d.Scan([]gatt.UUID{}, false); err != nil {
			f.logger.Warnf("failed to enable initial scanning: %s", err)
			f.fail(fmt.Errorf("failed to start scanning: %w", err))
		}
		return
	case gatt.StatePoweredOff:
		f.setStatus(scale.StateDisconnected, nil)
		f.fail(fmt.Errorf("bluetooth adapter is powered off"))
		return
	default:
		if err := d.StopScanning(); err != nil {
			f.logger.Warnf("failed to stop initial scanning: %s", err)
		}
	}
}

func (f *Felicita) genOnPeriphDiscovered() func(p gatt.Peripheral, arg2 *gatt.Advertisement, arg3 int) {
	return func(p gatt.Peripheral, arg2 *gatt.Advertisement, arg3 int) {

		f.logger.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

		if !f.thisDevice(p) {
			return
		}

		f.logger.Debugf("connecting device `%s/%s`", p.Name(), p.ID())

		// Stop scanning once we've got the peripheral we're looking for.
		if err := p.Device().StopScanning(); err != nil {
			f.logger.Warnf("failed to stop initial scanning: %s", err)
		}
		if err := p.Device().Connect(p); err != nil {
			f.logger.Errorf("failed to connect device `%s/%s`: %s", p.Name(), p.ID(), err)
			f.fail(fmt.Errorf("failed to connect device %s: %w", p.ID(), err))
		}
	}
}

func (f *Felicita) onPeriphConnected(p gatt.Peripheral, connErr error) {

	if !f.thisDevice(p) {
		return
	}

	f.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	defer func() {
		_ = p.Device().CancelConnection(p)
		f.setStatus(scale.StateDisconnected, connErr)
		if connErr != nil {
			f.fail(connErr)
		}
	}()

	if connErr != nil {
		return
	}

	// Set connection MTU
	if err := p.SetMTU(500); err != nil {
		connErr = fmt.Errorf("failed to set MTU: %w", err)
		return
	}

	// Discover services
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		connErr = fmt.Errorf("failed to discover services: %w", err)
		return
	}
	for _, s := range ss {
		if s.UUID().String() != dataService {
			continue
		}

		// Discover characteristics
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			connErr = fmt.Errorf("failed to discover characteristics: %w", err)
			return
		}
		for _, c := range cs {
			if c.UUID().String() != dataCharacteristic {
				continue
			}

			f.mu.Lock()
			f.btPeripheral = p
			f.btCharacteristic = c
			f.mu.Unlock()

			// Discover descriptors
			if _, err := p.DiscoverDescriptors(nil, c); err != nil {
				connErr = fmt.Errorf("failed to discover descriptors: %w", err)
				return
			}

			if err := p.SetNotifyValue(c, f.receiveData); err != nil {
				connErr = fmt.Errorf("failed to subscribe characteristic: %w", err)
				return
			}
		}
	}

	f.mu.RLock()
	subscribed := f.btCharacteristic != nil
	f.mu.RUnlock()
	if !subscribed {
		connErr = fmt.Errorf("device `%s/%s` does not provide a weight characteristic", p.Name(), p.ID())
		return
	}

	f.logger.Debugf("waiting to release peripheral `%s/%s`", p.Name(), p.ID())
	<-f.doneChan
	f.logger.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())
}

func (f *Felicita) onPeriphDisconnected(p gatt.Peripheral, err error) {

	if !f.thisDevice(p) {
		return
	}

	f.setStatus(scale.StateDisconnected, err)
	f.doneOnce.Do(func() {
		close(f.doneChan)
	})
	f.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())
}

func (f *Felicita) thisDevice(p gatt.Peripheral) bool {

	// Check if name and / or device ID have been overridden
	if f.deviceID != "" {
		return strings.EqualFold(p.ID(), f.deviceID)
	}
	return strings.EqualFold(p.Name(), f.deviceName)
}

func (f *Felicita) receiveData(_ *gatt.Characteristic, req []byte, err error) {

	if err != nil {
		return
	}

	dataPoint, battery, ok := parsePayload(req, time.Now())
	if !ok {
		return
	}

	f.mu.Lock()
	f.lastData = dataPoint
	f.batteryLevel = battery
	f.hasReceivedData = true
	f.connectionStatus = scale.ConnectionStatus{State: scale.StateConnected}
	f.mu.Unlock()

	f.readyOnce.Do(func() {
		close(f.readyChan)
	})
}

////////////////////////////////////////////////////////////////////////////////

func parsePayload(req []byte, ts time.Time) (scale.DataPoint, byte, bool) {
	if len(req) != payloadLength {
		return scale.DataPoint{}, 0, false
	}

	weight, err := strconv.ParseFloat(string(req[2:9]), 64)
	if err != nil {
		return scale.DataPoint{}, 0, false
	}

	return scale.DataPoint{
		TimeStamp: ts,
		Weight:    weight / 100.,
		Unit:      parseUnit(req[9:11]),
	}, req[15], true
}

func parseUnit(data []byte) scale.Unit {
	if len(data) != 2 {
		return scale.UnitUnknown
	}

	if strings.Contains(strings.ToLower(string(data)), "g") {
		return scale.UnitGrams
	}
	if strings.Contains(strings.ToLower(string(data)), "oz") {
		return scale.UnitOz
	}

	return scale.UnitUnknown
}

func parseBatteryLevel(data byte) float64 {

	val := float64(data)
	if val < minBatteryLevel {
		return 0.
	} else if val > maxBatteryLevel {
		return 100.
	}

	return math.Round((val - minBatteryLevel) / (maxBatteryLevel - minBatteryLevel) * 100.)
}
