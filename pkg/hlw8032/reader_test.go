package hlw8032

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	buf []byte
}

func (f *fakeTransport) Available() int { return len(f.buf) }

func (f *fakeTransport) ReadByte() (byte, error) {
	if len(f.buf) == 0 {
		return 0, io.EOF
	}
	b := f.buf[0]
	f.buf = f.buf[1:]
	return b, nil
}

func (f *fakeTransport) push(b ...byte) { f.buf = append(f.buf, b...) }

func (f *fakeTransport) pushFrame(fr Frame) {
	raw := fr.Encode()
	f.push(raw[:]...)
}

type recordingDiagnostics struct {
	errs []error
}

func (r *recordingDiagnostics) Report(err error) { r.errs = append(r.errs, err) }

const allRegsUpdated = VoltageRegUpdated | CurrentRegUpdated | PowerRegUpdated

func validFrame() Frame {
	return Frame{
		Check:          CheckRegisterValue,
		VoltageParam:   0x64,
		VoltageReg:     0xC8,
		CurrentParam:   1000,
		CurrentReg:     8000,
		PowerParam:     4000,
		PowerReg:       8000,
		UpdateStatus:   allRegsUpdated,
		PowerFactorReg: 47846,
	}
}

func newTestMeter(tr Transport, opts ...Option) (*Meter, *[]time.Duration) {
	var slept []time.Duration
	m := New(tr, opts...)
	m.sleep = func(d time.Duration) { slept = append(slept, d) }
	return m, &slept
}

func TestPoll_NoBytesIsNoop(t *testing.T) {
	m, slept := newTestMeter(&fakeTransport{})

	require.NoError(t, m.Poll())
	assert.Empty(t, *slept)
	assert.False(t, m.LastReadSuccess())
}

func TestPoll_WaitsSettleDelayBeforeReading(t *testing.T) {
	tr := &fakeTransport{}
	tr.pushFrame(validFrame())
	m, slept := newTestMeter(tr, WithSettleDelay(10*time.Millisecond))

	require.NoError(t, m.Poll())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, *slept)
}

func TestPoll_ValidFrameUpdatesRegisters(t *testing.T) {
	tr := &fakeTransport{}
	tr.pushFrame(validFrame())
	m, _ := newTestMeter(tr)

	require.NoError(t, m.Poll())

	assert.True(t, m.LastReadSuccess())
	assert.Equal(t, Registers{
		VoltageParam:         0x64,
		VoltageReg:           0xC8,
		CurrentParam:         1000,
		CurrentReg:           8000,
		PowerParam:           4000,
		PowerReg:             8000,
		PowerFactorReg:       47846,
		PowerFactorOverflows: InitialOverflowCount,
		ReadSuccess:          true,
	}, m.Snapshot())

	raw := validFrame().Encode()
	assert.Equal(t, raw, m.RawFrame())
}

func TestPoll_PartialFrameDrainsBuffer(t *testing.T) {
	tr := &fakeTransport{}
	raw := validFrame().Encode()
	tr.push(raw[:10]...)
	m, _ := newTestMeter(tr)
	before := m.Snapshot()

	err := m.Poll()
	assert.ErrorIs(t, err, ErrPartialFrame)
	assert.Zero(t, tr.Available())
	assert.Equal(t, before, m.Snapshot())

	// A whole frame on the next poll is picked up normally.
	tr.pushFrame(validFrame())
	require.NoError(t, m.Poll())
	assert.True(t, m.LastReadSuccess())
}

func TestPoll_SyncErrorDrainsAndKeepsState(t *testing.T) {
	tr := &fakeTransport{}
	bad := validFrame()
	bad.Check = 0x00
	tr.pushFrame(bad)
	tr.push(0x01, 0x02, 0x03)
	diag := &recordingDiagnostics{}
	m, _ := newTestMeter(tr, WithDiagnostics(diag))
	before := m.Snapshot()

	err := m.Poll()
	assert.ErrorIs(t, err, ErrSync)
	assert.Zero(t, tr.Available())
	assert.Equal(t, before, m.Snapshot())
	assert.False(t, m.LastReadSuccess())
}

func TestPoll_ChecksumErrorReportsAndKeepsState(t *testing.T) {
	tr := &fakeTransport{}
	tr.pushFrame(validFrame())
	diag := &recordingDiagnostics{}
	m, _ := newTestMeter(tr, WithDiagnostics(diag))
	require.NoError(t, m.Poll())
	before := m.Snapshot()

	next := validFrame()
	next.VoltageParam = 0x99
	raw := next.Encode()
	raw[offChecksum]++
	tr.push(raw[:]...)

	err := m.Poll()
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, before, m.Snapshot())
	assert.True(t, m.LastReadSuccess(), "flag stays set after a rejected frame")
	require.Len(t, diag.errs, 1)
	assert.ErrorIs(t, diag.errs[0], ErrChecksum)

	// The rejected bytes are still visible for diagnostics.
	assert.Equal(t, raw, m.RawFrame())
}

func TestPoll_RegistersAreStickyWithoutUpdateBit(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestMeter(tr)

	tr.pushFrame(validFrame())
	require.NoError(t, m.Poll())

	second := validFrame()
	second.VoltageParam = 0x65
	second.VoltageReg = 0x01
	second.CurrentParam = 1001
	second.CurrentReg = 0x02
	second.PowerParam = 4001
	second.PowerReg = 0x03
	second.PowerFactorReg = 12
	second.UpdateStatus = 0
	tr.pushFrame(second)
	require.NoError(t, m.Poll())

	got := m.Snapshot()
	assert.Equal(t, uint32(0xC8), got.VoltageReg)
	assert.Equal(t, uint32(8000), got.CurrentReg)
	assert.Equal(t, uint32(8000), got.PowerReg)

	// Parameters and PF always follow the latest frame.
	assert.Equal(t, uint32(0x65), got.VoltageParam)
	assert.Equal(t, uint32(1001), got.CurrentParam)
	assert.Equal(t, uint32(4001), got.PowerParam)
	assert.Equal(t, uint16(12), got.PowerFactorReg)
}

func TestPoll_EachUpdateBitGatesOnlyItsRegister(t *testing.T) {
	tests := []struct {
		name        string
		status      UpdateStatus
		wantVoltage uint32
		wantCurrent uint32
		wantPower   uint32
	}{
		{"voltage", VoltageRegUpdated, 7, 8000, 8000},
		{"current", CurrentRegUpdated, 0xC8, 7, 8000},
		{"power", PowerRegUpdated, 0xC8, 8000, 7},
		{"none", 0, 0xC8, 8000, 8000},
		{"all", allRegsUpdated, 7, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			m, _ := newTestMeter(tr)
			tr.pushFrame(validFrame())
			require.NoError(t, m.Poll())

			next := validFrame()
			next.VoltageReg, next.CurrentReg, next.PowerReg = 7, 7, 7
			next.UpdateStatus = tt.status
			tr.pushFrame(next)
			require.NoError(t, m.Poll())

			got := m.Snapshot()
			assert.Equal(t, tt.wantVoltage, got.VoltageReg)
			assert.Equal(t, tt.wantCurrent, got.CurrentReg)
			assert.Equal(t, tt.wantPower, got.PowerReg)
		})
	}
}

func TestPoll_RegisterNeverSetStaysZero(t *testing.T) {
	tr := &fakeTransport{}
	fr := validFrame()
	fr.UpdateStatus = VoltageRegUpdated
	tr.pushFrame(fr)
	m, _ := newTestMeter(tr)

	require.NoError(t, m.Poll())
	assert.Zero(t, m.Snapshot().CurrentReg)
	assert.Zero(t, m.Snapshot().PowerReg)
}

func TestPoll_OverflowCounterIncrementsOncePerFlaggedFrame(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestMeter(tr)

	flags := []bool{true, false, true, true, false}
	for _, overflow := range flags {
		fr := validFrame()
		if overflow {
			fr.UpdateStatus |= PowerFactorOverflowed
		}
		tr.pushFrame(fr)
		require.NoError(t, m.Poll())
	}

	assert.Equal(t, uint32(InitialOverflowCount+3), m.Snapshot().PowerFactorOverflows)
}

func TestPoll_RejectedFrameDoesNotCountOverflow(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestMeter(tr)

	fr := validFrame()
	fr.UpdateStatus |= PowerFactorOverflowed
	raw := fr.Encode()
	raw[offChecksum]++
	tr.push(raw[:]...)

	assert.ErrorIs(t, m.Poll(), ErrChecksum)
	assert.Equal(t, uint32(InitialOverflowCount), m.Snapshot().PowerFactorOverflows)
}

func TestPoll_LeaveTrailingKeepsExtraBytes(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestMeter(tr, WithTrailingPolicy(LeaveTrailing))

	second := validFrame()
	second.VoltageParam = 0x70
	tr.pushFrame(validFrame())
	tr.pushFrame(second)

	require.NoError(t, m.Poll())
	assert.Equal(t, FrameLength, tr.Available())
	assert.Equal(t, uint32(0x64), m.Snapshot().VoltageParam)

	require.NoError(t, m.Poll())
	assert.Zero(t, tr.Available())
	assert.Equal(t, uint32(0x70), m.Snapshot().VoltageParam)
}

func TestPoll_DrainTrailingDiscardsExtraBytes(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestMeter(tr, WithTrailingPolicy(DrainTrailing))

	second := validFrame()
	second.VoltageParam = 0x70
	tr.pushFrame(validFrame())
	tr.pushFrame(second)

	require.NoError(t, m.Poll())
	assert.Zero(t, tr.Available())
	assert.Equal(t, uint32(0x64), m.Snapshot().VoltageParam)

	// Nothing left; the next poll is a no-op.
	require.NoError(t, m.Poll())
	assert.Equal(t, uint32(0x64), m.Snapshot().VoltageParam)
}

func TestParseTrailingPolicy(t *testing.T) {
	p, err := ParseTrailingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LeaveTrailing, p)

	p, err = ParseTrailingPolicy("drain")
	require.NoError(t, err)
	assert.Equal(t, DrainTrailing, p)
	assert.Equal(t, "drain", p.String())

	_, err = ParseTrailingPolicy("flush")
	assert.Error(t, err)
}

func TestMeter_EffectiveVoltageEndToEnd(t *testing.T) {
	tr := &fakeTransport{}
	tr.push(
		0x00, 0x5A,
		0x00, 0x00, 0x64,
		0x00, 0x00, 0xC8,
		0x00, 0x03, 0xE8,
		0x00, 0x1F, 0x40,
		0x00, 0x0F, 0xA0,
		0x00, 0x1F, 0x40,
		0x70,
		0x00, 0x00,
	)
	tr.push(Checksum(append(append([]byte{}, tr.buf...), 0x00)))
	m, _ := newTestMeter(tr, WithCalibration(Calibration{VoltageCoeff: 1881.0, CurrentCoeff: 1000.0}))

	require.NoError(t, m.Poll())

	v, err := m.EffectiveVoltage()
	require.NoError(t, err)
	assert.Equal(t, 940.5, v)

	i, err := m.EffectiveCurrent()
	require.NoError(t, err)
	assert.Equal(t, 125.0, i)
}

func TestMeter_SetCoefficients(t *testing.T) {
	m, _ := newTestMeter(&fakeTransport{})

	require.NoError(t, m.SetVoltageCoefficient(1881))
	require.NoError(t, m.SetCurrentCoefficient(0.5))
	assert.Equal(t, Calibration{VoltageCoeff: 1881, CurrentCoeff: 0.5}, m.Calibration())

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, m.SetVoltageCoefficient(bad), ErrInvalidCoefficient)
		assert.ErrorIs(t, m.SetCurrentCoefficient(bad), ErrInvalidCoefficient)
	}
	assert.Equal(t, Calibration{VoltageCoeff: 1881, CurrentCoeff: 0.5}, m.Calibration())
}

func TestMeter_DefaultsFromReferenceResistors(t *testing.T) {
	m := New(&fakeTransport{})

	assert.Equal(t, Calibration{VoltageCoeff: 1881, CurrentCoeff: 1}, m.Calibration())
	assert.Equal(t, uint32(InitialOverflowCount), m.Snapshot().PowerFactorOverflows)
	assert.Equal(t, DefaultSettleDelay, m.settleDelay)
}
