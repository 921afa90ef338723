package transport

import "sync"

// Capture records everything sent through it. Used by tests and by the
// diagnostics log's output mirror.
type Capture struct {
	mu        sync.Mutex
	frames    [][]byte
	tables    [][128]float64
	caps      Capabilities
	connected bool

	// Fail injections for tests.
	SendErr    error
	ConnectErr error
}

// NewCapture creates a capture transport with the given capabilities.
func NewCapture(caps Capabilities) *Capture {
	return &Capture{caps: caps}
}

// Send implements Transport.
func (c *Capture) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	c.frames = append(c.frames, cp)
	return nil
}

// Capabilities implements Transport.
func (c *Capture) Capabilities() Capabilities { return c.caps }

// Connect implements Connector.
func (c *Capture) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

// Disconnect implements Connector.
func (c *Capture) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// IsConnected implements Connector.
func (c *Capture) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendTable implements TableSender.
func (c *Capture) SendTable(table [128]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = append(c.tables, table)
	return nil
}

// Frames returns a copy of the captured byte frames.
func (c *Capture) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Tables returns the captured tuning tables.
func (c *Capture) Tables() [][128]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][128]float64, len(c.tables))
	copy(out, c.tables)
	return out
}

// Reset clears captured traffic.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
	c.tables = nil
}
