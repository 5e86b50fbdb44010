package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/layered-backend/internal/clients/assets"
	"github.com/yungbote/layered-backend/internal/clients/fal"
	"github.com/yungbote/layered-backend/internal/clients/openai"
	"github.com/yungbote/layered-backend/internal/clients/redis"
	"github.com/yungbote/layered-backend/internal/jobs/pipeline/generate_project"
	"github.com/yungbote/layered-backend/internal/observability"
	"github.com/yungbote/layered-backend/internal/platform/logger"
	"github.com/yungbote/layered-backend/internal/platform/objectstore"
	"github.com/yungbote/layered-backend/internal/temporalx"
)

type Clients struct {
	Store     objectstore.Store
	Inference *fal.Client
	// Captioner is nil when no gateway key is configured; projects then keep no name.
	Captioner generate_project.Captioner
	Fetcher   *assets.Fetcher
	Bus       redis.ProjectBus
	Temporal  temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	storeCfg, err := objectstore.ResolveConfigFromEnv()
	if err != nil {
		return out, fmt.Errorf("object storage config: %w", err)
	}
	out.Store, err = objectstore.New(ctx, log, storeCfg)
	if err != nil {
		return out, fmt.Errorf("init object storage: %w", err)
	}

	out.Inference, err = fal.New(log, cfg.Fal, metrics)
	if err != nil {
		return out, fmt.Errorf("init inference client: %w", err)
	}

	if captioner, err := openai.NewCaptioner(log, cfg.Caption, metrics); err != nil {
		log.Warn("Captioning disabled", "error", err)
	} else {
		out.Captioner = captioner
	}

	out.Fetcher = assets.NewFetcher(log, cfg.Assets, metrics)

	if cfg.RedisAddr != "" {
		out.Bus, err = redis.NewProjectBus(log)
		if err != nil {
			return out, fmt.Errorf("init redis: %w", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set; project events and the stale report lock are disabled")
	}

	if cfg.DispatchMode == DispatchTemporal {
		out.Temporal, err = temporalx.NewClient(log, cfg.Temporal)
		if err != nil {
			return out, fmt.Errorf("init temporal client: %w", err)
		}
	}
	return out, nil
}

func (c Clients) Close() {
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
