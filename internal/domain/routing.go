package domain

import "fmt"

// RoutingPolicy decides where an inbound application message goes.
type RoutingPolicy string

const (
	RouteEchoToSender          RoutingPolicy = "echo-to-sender"
	RouteBroadcastToAll        RoutingPolicy = "broadcast-to-all"
	RouteBroadcastExceptSender RoutingPolicy = "broadcast-except-sender"
)

// ParseRoutingPolicy validates s. The empty string selects echo-to-sender.
func ParseRoutingPolicy(s string) (RoutingPolicy, error) {
	switch p := RoutingPolicy(s); p {
	case "":
		return RouteEchoToSender, nil
	case RouteEchoToSender, RouteBroadcastToAll, RouteBroadcastExceptSender:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRoutingPolicy, s)
	}
}
