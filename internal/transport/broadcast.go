package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/errs"
)

// TableClient receives tuning tables from a Broadcast transport.
type TableClient interface {
	ReceiveTable(table [128]float64) error
}

// Broadcast fans tuning tables out to registered clients. It carries no
// channel-voice traffic: Send drops bytes silently, which lets a
// broadcast destination share the same delivery pipeline as port
// destinations.
type Broadcast struct {
	mu      sync.Mutex
	clients map[string]TableClient
	log     *zap.Logger
}

// NewBroadcast creates an empty broadcaster. log may be nil.
func NewBroadcast(log *zap.Logger) *Broadcast {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcast{clients: make(map[string]TableClient), log: log}
}

// Register adds a client under an id, replacing any previous client with
// the same id.
func (b *Broadcast) Register(id string, c TableClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = c
}

// Unregister removes a client.
func (b *Broadcast) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// ClientCount returns the number of registered clients.
func (b *Broadcast) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Send implements Transport; non-table traffic has nowhere to go.
func (b *Broadcast) Send([]byte) error {
	return nil
}

// Capabilities implements Transport.
func (b *Broadcast) Capabilities() Capabilities {
	return Capabilities{SupportsTuningTable: true}
}

// SendTable delivers the table to every client. With no clients
// registered there is nobody to retune, which is an error the caller
// surfaces through the destination status.
func (b *Broadcast) SendTable(table [128]float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return errs.New(errs.CodeNoTuningClients, "no tuning-table clients registered")
	}
	for id, c := range b.clients {
		if err := c.ReceiveTable(table); err != nil {
			b.log.Warn("tuning table delivery failed", zap.String("client", id), zap.Error(err))
		}
	}
	return nil
}
