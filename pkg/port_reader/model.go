package port_reader

import (
	"io"
	"sync"
)

// HLW8032 UART framing.
const (
	DefaultBaudrate = 4800
	DataBits        = 8
	StopBits        = 1
)

// Size of the receive buffer. When full, the oldest bytes are dropped.
const RxBufferSize = 256

type SerialPort struct {
	device   string
	baudrate uint
	port     io.ReadWriteCloser

	rxMutex sync.Mutex
	rx      []byte
	dropped uint64
	readErr error
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

// PortInfo describes one serial device found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}
