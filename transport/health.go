package transport

import (
	"context"

	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/health"
)

// remoteProbe adapts one raw HTTP health response into health.Prober.
type remoteProbe struct {
	healthy bool
	detail  string
}

func (p remoteProbe) Healthy() bool  { return p.healthy }
func (p remoteProbe) Detail() string { return p.detail }

// Health calls the service's aggregate health endpoint and reports the
// result through the same Result vocabulary health.All uses for local
// checks, so a host can merge the SDK's remote probe with its own checks.
func (c *Client) Health(ctx context.Context) health.Result {
	return c.probe(ctx, "health", "/health")
}

// HealthLive calls the liveness-only endpoint: is the process up at all.
func (c *Client) HealthLive(ctx context.Context) health.Result {
	return c.probe(ctx, "health.live", "/health/live")
}

// HealthReady calls the readiness endpoint: is the service ready to accept
// traffic (dependencies connected, warm caches, etc).
func (c *Client) HealthReady(ctx context.Context) health.Result {
	return c.probe(ctx, "health.ready", "/health/ready")
}

func (c *Client) probe(ctx context.Context, name, path string) health.Result {
	_, err := c.Request(ctx, spooled.MethodGet, path, nil, nil, nil, spooled.RequestFlags{SkipPathPrefix: true})
	if err != nil {
		return health.FromProbe(name, remoteProbe{healthy: false, detail: err.Error()})
	}
	return health.FromProbe(name, remoteProbe{healthy: true})
}
