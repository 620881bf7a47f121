package mavlink

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3"

	"github.com/skynet-gcs/gcsbridge/internal/config"
)

// endpointConf maps a parsed vehicle address to a gomavlib endpoint.
func endpointConf(addr config.VehicleAddress) (gomavlib.EndpointConf, error) {
	switch addr.Kind {
	case config.LinkUDPServer:
		return gomavlib.EndpointUDPServer{Address: addr.Address}, nil
	case config.LinkUDPClient:
		return gomavlib.EndpointUDPClient{Address: addr.Address}, nil
	case config.LinkTCPServer:
		return gomavlib.EndpointTCPServer{Address: addr.Address}, nil
	case config.LinkTCPClient:
		return gomavlib.EndpointTCPClient{Address: addr.Address}, nil
	case config.LinkSerial:
		return gomavlib.EndpointSerial{Device: addr.Device, Baud: addr.Baud}, nil
	default:
		return nil, fmt.Errorf("unsupported link kind %q", addr.Kind)
	}
}
