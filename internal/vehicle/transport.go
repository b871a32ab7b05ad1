package vehicle

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// gcsSystemID is the MAVLink system id this ground station presents.
const gcsSystemID = 255

// transport is the minimal wire abstraction the link needs. Exactly
// one goroutine may call Receive at a time.
type transport interface {
	WriteMessage(msg message.Message) error
	// Receive blocks for the next inbound message. ok is false once
	// the transport is closed.
	Receive() (msg message.Message, systemID byte, ok bool)
	Close()
}

// nodeTransport adapts a gomavlib node to the transport interface.
type nodeTransport struct {
	node *gomavlib.Node
}

// dial opens the UDP endpoint described by cfg. The node's built-in
// heartbeat emitter stays disabled; the link runs its own sender.
func dial(cfg Config) (transport, error) {
	var endpoint gomavlib.EndpointConf
	if cfg.Server {
		endpoint = gomavlib.EndpointUDPServer{Address: cfg.Address}
	} else {
		endpoint = gomavlib.EndpointUDPClient{Address: cfg.Address}
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{endpoint},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      gcsSystemID,
		HeartbeatDisable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening mavlink endpoint %s: %w", cfg.Address, err)
	}

	return &nodeTransport{node: node}, nil
}

func (t *nodeTransport) WriteMessage(msg message.Message) error {
	return t.node.WriteMessageAll(msg)
}

func (t *nodeTransport) Receive() (message.Message, byte, bool) {
	for evt := range t.node.Events() {
		if frm, ok := evt.(*gomavlib.EventFrame); ok {
			return frm.Message(), frm.SystemID(), true
		}
	}
	return nil, 0, false
}

func (t *nodeTransport) Close() {
	t.node.Close()
}
