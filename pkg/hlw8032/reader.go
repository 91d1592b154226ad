package hlw8032

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// The HLW8032 transmits a frame every 50ms. Waiting slightly longer than
// that after the first byte shows up lets a whole frame land in the buffer.
const DefaultSettleDelay = 56 * time.Millisecond

// InitialOverflowCount is the PF overflow counter value before any overflow
// was seen. PowerFactorAccumulated multiplies by it, so it starts at one.
const InitialOverflowCount = 1

// Transport is the byte source the chip is wired to.
// ReadByte returns an error (io.EOF) when nothing is buffered.
type Transport interface {
	Available() int
	ReadByte() (byte, error)
}

// TrailingPolicy decides what happens to bytes buffered after a full frame.
type TrailingPolicy int

const (
	// LeaveTrailing reads exactly one frame and keeps the rest for the next poll.
	LeaveTrailing TrailingPolicy = iota
	// DrainTrailing discards everything buffered after the frame.
	DrainTrailing
)

func (p TrailingPolicy) String() string {
	switch p {
	case LeaveTrailing:
		return "leave"
	case DrainTrailing:
		return "drain"
	default:
		return fmt.Sprintf("TrailingPolicy(%d)", int(p))
	}
}

// ParseTrailingPolicy maps the config spelling to a policy.
func ParseTrailingPolicy(s string) (TrailingPolicy, error) {
	switch s {
	case "", "leave":
		return LeaveTrailing, nil
	case "drain":
		return DrainTrailing, nil
	default:
		return 0, fmt.Errorf("unknown trailing byte policy %q (supported: leave, drain)", s)
	}
}

// Registers is the raw register state kept across frames.
// VoltageReg, CurrentReg and PowerReg keep their last value until the chip
// flags them as updated.
type Registers struct {
	VoltageParam         uint32
	VoltageReg           uint32
	CurrentParam         uint32
	CurrentReg           uint32
	PowerParam           uint32
	PowerReg             uint32
	PowerFactorReg       uint16
	PowerFactorOverflows uint32
	ReadSuccess          bool
}

// Meter owns the transport handle, the raw register state and the calibration.
// Poll must not be called concurrently with itself. Every other method is
// safe to call from any goroutine.
type Meter struct {
	transport   Transport
	settleDelay time.Duration
	trailing    TrailingPolicy
	diag        Diagnostics
	sleep       func(time.Duration)

	mu    sync.RWMutex
	frame [FrameLength]byte
	regs  Registers
	cal   Calibration
}

type Option func(*Meter)

func WithCalibration(c Calibration) Option {
	return func(m *Meter) { m.cal = c }
}

func WithSettleDelay(d time.Duration) Option {
	return func(m *Meter) { m.settleDelay = d }
}

func WithTrailingPolicy(p TrailingPolicy) Option {
	return func(m *Meter) { m.trailing = p }
}

func WithDiagnostics(d Diagnostics) Option {
	return func(m *Meter) {
		if d != nil {
			m.diag = d
		}
	}
}

// New initializes a meter reading from transport.
func New(transport Transport, opts ...Option) *Meter {
	m := &Meter{
		transport:   transport,
		settleDelay: DefaultSettleDelay,
		trailing:    LeaveTrailing,
		diag:        discardDiagnostics{},
		sleep:       time.Sleep,
		regs:        Registers{PowerFactorOverflows: InitialOverflowCount},
		cal:         DefaultCalibration(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Poll reads and applies at most one frame.
// It returns nil when nothing is buffered or when a frame was applied.
// ErrPartialFrame, ErrSync and ErrChecksum leave the registers untouched.
func (m *Meter) Poll() error {
	if m.transport.Available() <= 0 {
		return nil
	}

	m.sleep(m.settleDelay)

	buffered := m.transport.Available()
	if buffered < FrameLength {
		// Realign on a future frame.
		m.drain()
		return fmt.Errorf("%w: %d of %d bytes buffered", ErrPartialFrame, buffered, FrameLength)
	}

	var raw [FrameLength]byte
	for i := range raw {
		b, err := m.transport.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: read byte %d: %v", ErrPartialFrame, i, err)
		}
		raw[i] = b
	}
	if m.trailing == DrainTrailing {
		m.drain()
	}

	m.mu.Lock()
	m.frame = raw
	m.mu.Unlock()

	f, err := ParseFrame(raw[:])
	if errors.Is(err, ErrSync) {
		m.drain()
		return err
	}
	if err != nil {
		m.diag.Report(err)
		return err
	}

	m.apply(f)
	return nil
}

// drain discards what is buffered right now.
func (m *Meter) drain() {
	for n := m.transport.Available(); n > 0; n-- {
		if _, err := m.transport.ReadByte(); err != nil {
			return
		}
	}
}

func (m *Meter) apply(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &m.regs
	r.ReadSuccess = true

	r.VoltageParam = f.VoltageParam
	if f.UpdateStatus.Has(VoltageRegUpdated) {
		r.VoltageReg = f.VoltageReg
	}

	r.CurrentParam = f.CurrentParam
	if f.UpdateStatus.Has(CurrentRegUpdated) {
		r.CurrentReg = f.CurrentReg
	}

	r.PowerParam = f.PowerParam
	if f.UpdateStatus.Has(PowerRegUpdated) {
		r.PowerReg = f.PowerReg
	}

	r.PowerFactorReg = f.PowerFactorReg
	if f.UpdateStatus.Has(PowerFactorOverflowed) {
		r.PowerFactorOverflows++
	}
}

// LastReadSuccess reports whether any frame has been applied.
func (m *Meter) LastReadSuccess() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regs.ReadSuccess
}

// RawFrame returns the last 24 bytes read, including rejected frames.
func (m *Meter) RawFrame() [FrameLength]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame
}

// Snapshot returns a copy of the registers as of the last completed poll.
func (m *Meter) Snapshot() Registers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regs
}

func (m *Meter) Calibration() Calibration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cal
}

func (m *Meter) SetVoltageCoefficient(v float64) error {
	if err := checkCoefficient(v); err != nil {
		return fmt.Errorf("voltage coefficient: %w", err)
	}
	m.mu.Lock()
	m.cal.VoltageCoeff = v
	m.mu.Unlock()
	return nil
}

func (m *Meter) SetCurrentCoefficient(v float64) error {
	if err := checkCoefficient(v); err != nil {
		return fmt.Errorf("current coefficient: %w", err)
	}
	m.mu.Lock()
	m.cal.CurrentCoeff = v
	m.mu.Unlock()
	return nil
}

// Calculator captures registers and calibration in one consistent snapshot.
func (m *Meter) Calculator() Calculator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Calculator{Registers: m.regs, Calibration: m.cal, diag: m.diag}
}

func (m *Meter) EffectiveVoltage() (float64, error) { return m.Calculator().EffectiveVoltage() }
func (m *Meter) DividerVoltage() (float64, error)   { return m.Calculator().DividerVoltage() }
func (m *Meter) EffectiveCurrent() (float64, error) { return m.Calculator().EffectiveCurrent() }
func (m *Meter) ShuntVoltage() (float64, error)     { return m.Calculator().ShuntVoltage() }
func (m *Meter) ActivePower() (float64, error)      { return m.Calculator().ActivePower() }
func (m *Meter) ApparentPower() (float64, error)    { return m.Calculator().ApparentPower() }
func (m *Meter) PowerFactor() (float64, error)      { return m.Calculator().PowerFactor() }
func (m *Meter) PowerFactorRaw() uint16             { return m.Calculator().PowerFactorRaw() }
func (m *Meter) PowerFactorAccumulated() uint64     { return m.Calculator().PowerFactorAccumulated() }
func (m *Meter) EnergyKWh() (float64, error)        { return m.Calculator().EnergyKWh() }
