package frontend

import "github.com/smazurov/camback/internal/nats"

type natsTransport struct {
	t *nats.Transport
}

// NATSTransport adapts a connected NATS transport.
func NATSTransport(t *nats.Transport) Transport {
	return natsTransport{t: t}
}

func (n natsTransport) OpenRing(domID, devID uint32) Ring {
	return n.t.Open(domID, devID)
}

func (n natsTransport) PublishState(m nats.StateMessage) error {
	return n.t.PublishState(m)
}
