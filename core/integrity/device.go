package integrity

import (
	"strconv"
	"sync"
	"time"

	"github.com/trezcool/masomo-proctor/core"
)

// DefaultDeviceCheckInterval is the cadence of the best-effort device probe.
const DefaultDeviceCheckInterval = 30 * time.Second

// DeviceProbe periodically looks for screen capture signals.
type DeviceProbe struct {
	devices  DeviceCapability
	reporter *Reporter
	clock    Clock
	logger   core.Logger
	interval time.Duration

	mu        sync.Mutex
	ticker    Timer
	capturing bool
	last      *DeviceInfo
}

func NewDeviceProbe(devices DeviceCapability, reporter *Reporter, clock Clock, logger core.Logger, interval time.Duration) *DeviceProbe {
	return &DeviceProbe{devices: devices, reporter: reporter, clock: clock, logger: logger, interval: interval}
}

func (p *DeviceProbe) Mount() {
	if p.devices == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		return
	}
	p.capturing = false
	p.ticker = p.clock.Every(p.interval, p.Check)
}

func (p *DeviceProbe) Unmount() {
	p.mu.Lock()
	ticker := p.ticker
	p.ticker = nil
	p.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
}

// Check takes one snapshot and reports when screen capture starts.
func (p *DeviceProbe) Check() {
	info, err := p.devices.Snapshot()
	if err != nil {
		p.logger.Debug("device snapshot failed", err)
		return
	}
	capturing := info.DisplayCaptureActive || info.VideoInputs > 1

	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return
	}
	rising := capturing && !p.capturing
	p.capturing = capturing
	p.last = &info
	p.mu.Unlock()

	if !rising {
		return
	}
	desc := "Screen capture is active"
	if !info.DisplayCaptureActive {
		desc = strconv.Itoa(info.VideoInputs) + " video input devices detected"
	}
	p.reporter.Report(ViolationScreenRecording, SeverityMedium, desc)
}

// Last returns the latest snapshot, if any.
func (p *DeviceProbe) Last() *DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	info := *p.last
	return &info
}
