package websocket

import "github.com/agentswarm/agentswarm/internal/common/logger"

// Provide creates the WebSocket gateway.
func Provide(apiKey string, log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(apiKey, log)
	return gateway, nil
}
