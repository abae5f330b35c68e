// Package discovery scans for Bluetooth LE scales by their advertised name.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/perchscale/pkg/scale"
)

const (

	// DefaultTimeout denotes the duration of a scan
	DefaultTimeout = 10 * time.Second
)

// DefaultKeywords denotes the name fragments identifying a supported scale
var DefaultKeywords = []string{"FELICITA"}

// ErrNoDevice denotes that no matching scale was found during the scan
var ErrNoDevice = errors.New("no matching scale found, make sure it is switched on and in range")

// Candidate denotes a device seen during a scan
type Candidate struct {
	Address string
	Name    string
	RSSI    int
}

// String returns a human-readable representation of the candidate
func (c Candidate) String() string {
	name := c.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("%s - %s (RSSI %d)", c.Address, name, c.RSSI)
}

// Matches returns if the name contains any of the keywords (case-insensitive)
func Matches(name string, keywords []string) bool {
	upper := strings.ToUpper(name)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(upper, strings.ToUpper(keyword)) {
			return true
		}
	}
	return false
}

// Filter returns all candidates whose name matches any of the keywords
func Filter(candidates []Candidate, keywords []string) []Candidate {
	var res []Candidate
	for _, c := range candidates {
		if Matches(c.Name, keywords) {
			res = append(res, c)
		}
	}
	return res
}

// Scanner scans for Bluetooth LE devices
type Scanner struct {
	btDevice gatt.Device
	keywords []string
	timeout  time.Duration
	logger   scale.Logger
}

// New instantiates a new Scanner, executing functional options, if any
func New(options ...func(*Scanner)) (*Scanner, error) {
	s := &Scanner{
		keywords: DefaultKeywords,
		timeout:  DefaultTimeout,
		logger:   &scale.NullLogger{},
	}

	for _, option := range options {
		option(s)
	}

	if s.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bluetooth device: %w", err)
		}
		s.btDevice = btDevice
	}

	return s, nil
}

// WithKeywords sets the name fragments identifying a scale
func WithKeywords(keywords ...string) func(*Scanner) {
	return func(s *Scanner) {
		s.keywords = keywords
	}
}

// WithTimeout sets the scan duration
func WithTimeout(timeout time.Duration) func(*Scanner) {
	return func(s *Scanner) {
		s.timeout = timeout
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Scanner) {
	return func(s *Scanner) {
		s.btDevice = btDevice
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Scanner) {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// Close releases the Bluetooth adapter
func (s *Scanner) Close() error {
	if s.btDevice == nil {
		return nil
	}
	err := s.btDevice.Close()
	s.btDevice = nil
	return err
}

// Scan listens for advertisements until the scan timeout expires or ctx is
// done and returns every device seen, strongest signal first
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	if s.btDevice == nil {
		return nil, errors.New("scanner already closed")
	}
	c := newCollector()

	s.btDevice.Handle(
		gatt.AddPeripheralDiscovered(func(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {
			name := p.Name()
			if name == "" && adv != nil {
				name = adv.LocalName
			}
			if c.add(p.ID(), name, rssi) {
				s.logger.Debugf("discovered device `%s/%s`", name, p.ID())
			}
		}),
	)

	errChan := make(chan error, 1)
	if err := s.btDevice.Init(func(d gatt.Device, state gatt.State) {
		if state != gatt.StatePoweredOn {
			return
		}
		if err := d.Scan([]gatt.UUID{}, false); err != nil {
			select {
			case errChan <- fmt.Errorf("failed to start scanning: %w", err):
			default:
			}
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize bluetooth device: %w", err)
	}
	defer func() {
		if err := s.btDevice.StopScanning(); err != nil {
			s.logger.Debugf("failed to stop scanning: %s", err)
		}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return c.candidates(), nil
}

// Discover scans and returns all devices matching the configured keywords. If
// none was found, ErrNoDevice is returned
func (s *Scanner) Discover(ctx context.Context) ([]Candidate, error) {
	all, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("found %d bluetooth devices", len(all))
	scales := Filter(all, s.keywords)
	if len(scales) == 0 {
		return nil, ErrNoDevice
	}

	return scales, nil
}

type collector struct {
	mu   sync.Mutex
	seen map[string]Candidate
}

func newCollector() *collector {
	return &collector{seen: make(map[string]Candidate)}
}

// add records a sighting and returns true if the device was not seen before
func (c *collector) add(address, name string, rssi int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, exists := c.seen[address]
	if exists && name == "" {
		name = prev.Name
	}
	c.seen[address] = Candidate{
		Address: address,
		Name:    name,
		RSSI:    rssi,
	}

	return !exists
}

func (c *collector) candidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make([]Candidate, 0, len(c.seen))
	for _, cand := range c.seen {
		res = append(res, cand)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].RSSI != res[j].RSSI {
			return res[i].RSSI > res[j].RSSI
		}
		return res[i].Address < res[j].Address
	})

	return res
}
