package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/agentswarm/agentswarm/internal/common/logger"
)

// Provide starts the MCP server and returns a cleanup that stops it at most
// once, with a bounded shutdown wait.
func Provide(ctx context.Context, cfg Config, log *logger.Logger) (*Server, func() error, error) {
	srv := New(cfg, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var stopOnce sync.Once
	cleanup := func() error {
		var stopErr error
		stopOnce.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}

	return srv, cleanup, nil
}
