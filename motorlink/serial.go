package motorlink

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds each serial read so the receive loop can observe shutdown.
const DefaultReadTimeout = 100 * time.Millisecond

// SerialTransport wraps a UART opened 8N1.
type SerialTransport struct {
	name string
	port serial.Port
}

// OpenSerial opens name at baud with a bounded read timeout.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*SerialTransport, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &SerialTransport{name: name, port: port}, nil
}

// Read returns (0, nil) when the read timeout elapses without data.
func (s *SerialTransport) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// ResetInputBuffer discards bytes received before the link started.
func (s *SerialTransport) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialTransport) String() string {
	return "serial " + s.name
}

// ListPorts returns the serial ports visible to the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
