package port_reader

import (
	"errors"
	"fmt"
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial/enumerator"
)

var ErrPortClosed = errors.New("serial port closed")

// Open the serial port with the 8E1 framing the HLW8032 uses.
func Open(device string, baudrate uint) (*SerialPort, error) {
	if baudrate == 0 {
		baudrate = DefaultBaudrate
	}
	options := serial.OpenOptions{
		PortName:        device,
		BaudRate:        baudrate,
		DataBits:        DataBits,
		StopBits:        StopBits,
		ParityMode:      serial.PARITY_EVEN,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	log.Info().Str("device", device).Uint("baudrate", baudrate).Msg("connected to HLW8032 serial port")
	return newSerialPort(device, baudrate, port), nil
}

func newSerialPort(device string, baudrate uint, port io.ReadWriteCloser) *SerialPort {
	p := &SerialPort{
		device:   device,
		baudrate: baudrate,
		port:     port,
		rx:       make([]byte, 0, RxBufferSize),
		done:     make(chan struct{}),
	}
	go p.pump()
	return p
}

// pump moves bytes from the port into the receive buffer until the port fails.
func (p *SerialPort) pump() {
	defer close(p.done)

	chunk := make([]byte, 64)
	for {
		n, err := p.port.Read(chunk)
		if n > 0 {
			p.store(chunk[:n])
		}
		if err != nil {
			p.rxMutex.Lock()
			p.readErr = err
			p.rxMutex.Unlock()
			return
		}
	}
}

func (p *SerialPort) store(b []byte) {
	p.rxMutex.Lock()
	defer p.rxMutex.Unlock()

	p.rx = append(p.rx, b...)
	if over := len(p.rx) - RxBufferSize; over > 0 {
		p.dropped += uint64(over)
		p.rx = append(p.rx[:0], p.rx[over:]...)
	}
}

// Available returns the number of buffered bytes.
func (p *SerialPort) Available() int {
	p.rxMutex.Lock()
	defer p.rxMutex.Unlock()
	return len(p.rx)
}

// ReadByte pops one buffered byte. It returns io.EOF when the buffer is empty.
func (p *SerialPort) ReadByte() (byte, error) {
	p.rxMutex.Lock()
	defer p.rxMutex.Unlock()

	if len(p.rx) == 0 {
		return 0, io.EOF
	}
	b := p.rx[0]
	p.rx = p.rx[1:]
	return b, nil
}

// Err reports why the port stopped delivering bytes, or nil while it is healthy.
func (p *SerialPort) Err() error {
	p.rxMutex.Lock()
	defer p.rxMutex.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	return p.readErr
}

// Dropped counts bytes lost to a full receive buffer.
func (p *SerialPort) Dropped() uint64 {
	p.rxMutex.Lock()
	defer p.rxMutex.Unlock()
	return p.dropped
}

// Done is closed once the pump goroutine has exited.
func (p *SerialPort) Done() <-chan struct{} {
	return p.done
}

func (p *SerialPort) Device() string {
	return p.device
}

func (p *SerialPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.rxMutex.Lock()
		p.closed = true
		p.rxMutex.Unlock()

		err = p.port.Close()
		log.Info().Str("device", p.device).Msg("disconnected from HLW8032 serial port")
	})
	return err
}

// ListPorts enumerates serial devices, with USB details where the OS provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
