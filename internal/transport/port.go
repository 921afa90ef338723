package transport

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/errs"
)

// PortTransport adapts a MIDI output port to the Transport contract.
type PortTransport struct {
	mu   sync.Mutex
	out  drivers.Out
	log  *zap.Logger
	caps Capabilities
}

// NewPortTransport wraps an output port. log may be nil.
func NewPortTransport(out drivers.Out, log *zap.Logger) *PortTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &PortTransport{
		out: out,
		log: log.With(zap.String("port", out.String())),
		caps: Capabilities{
			SupportsPitchBend: true,
			SupportsMPE:       true,
		},
	}
}

// Send writes raw bytes to the port.
func (p *PortTransport) Send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.out.IsOpen() {
		return errs.Newf(errs.CodeBridgeDisconnected, "port %s is not open", p.out.String())
	}
	if err := p.out.Send(b); err != nil {
		return errs.Wrap(errs.CodeSendFailed, "", fmt.Errorf("send to %s: %w", p.out.String(), err))
	}
	return nil
}

// Capabilities implements Transport.
func (p *PortTransport) Capabilities() Capabilities {
	return p.caps
}

// Connect opens the port.
func (p *PortTransport) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.IsOpen() {
		return nil
	}
	if err := p.out.Open(); err != nil {
		return errs.Wrap(errs.CodePermissionDenied, "", fmt.Errorf("open %s: %w", p.out.String(), err))
	}
	p.log.Info("port opened")
	return nil
}

// Disconnect closes the port.
func (p *PortTransport) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.out.IsOpen() {
		return nil
	}
	return p.out.Close()
}

// IsConnected reports whether the port is open.
func (p *PortTransport) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.IsOpen()
}
