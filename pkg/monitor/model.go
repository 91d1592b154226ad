package monitor

import (
	"sync"
	"time"

	"github.com/NotCoffee418/hlw8032_meter/pkg/hlw8032"
	"github.com/NotCoffee418/hlw8032_meter/pkg/types"
	"github.com/rs/zerolog"
)

// Port is a transport that can fail and be closed, like port_reader.SerialPort.
type Port interface {
	hlw8032.Transport
	Err() error
	Close() error
}

// Opener makes one attempt at opening the port.
type Opener func() (Port, error)

type Config struct {
	PollInterval   time.Duration
	ReportInterval time.Duration

	// Consecutive bad frames before a warning is logged.
	MaxFrameErrors int
	// Reconnect attempts before Run gives up. Zero retries forever.
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	MeterOptions []hlw8032.Option
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Millisecond,
		ReportInterval: time.Second,
		MaxFrameErrors: 10,
		MaxRetries:     10,
		BaseRetryDelay: 2 * time.Second,
		MaxRetryDelay:  60 * time.Second,
	}
}

type Monitor struct {
	open   Opener
	cfg    Config
	logger zerolog.Logger

	// Owned by the Run goroutine.
	transport   *portTransport
	meter       *hlw8032.Meter
	frameErrors int
	retryCount  int
	nextAttempt time.Time

	readingMutex  sync.RWMutex
	latestReading *types.MeterReading
}

// portTransport keeps the Meter alive across reconnects. It looks empty
// while no port is open.
type portTransport struct {
	port Port
}
