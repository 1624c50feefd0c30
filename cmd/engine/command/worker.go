package command

import (
	"fmt"

	"github.com/pixil98/go-service"

	"github.com/worldsmith/engine/internal/approval"
	"github.com/worldsmith/engine/internal/connection"
	"github.com/worldsmith/engine/internal/driver"
	"github.com/worldsmith/engine/internal/effect"
	"github.com/worldsmith/engine/internal/event"
	"github.com/worldsmith/engine/internal/game"
	"github.com/worldsmith/engine/internal/genai"
	"github.com/worldsmith/engine/internal/messaging"
	"github.com/worldsmith/engine/internal/queue"
	"github.com/worldsmith/engine/internal/storage"
	"github.com/worldsmith/engine/internal/world"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	clock := game.SystemClock()

	// Broker
	nats, err := cfg.Nats.buildNatsServer()
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}

	// Persistence
	db, err := storage.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	bus := event.NewBus(event.NewSqliteStore(db))
	worldStore := world.NewStore(db, clock)

	// Authored content
	regions, err := cfg.Content.Regions.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating region store: %w", err)
	}
	triggerSets, err := cfg.Content.Triggers.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating trigger store: %w", err)
	}
	triggers := world.NewTriggerLibrary(triggerSets)

	// Generative backends
	chatClient, err := cfg.Model.buildClient()
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	imageClient, err := cfg.Render.buildImageClient()
	if err != nil {
		return nil, fmt.Errorf("creating image client: %w", err)
	}

	// Connections and delivery
	registry := connection.NewRegistry(bus)
	delivery := messaging.NewClientDelivery(nats)

	// Work queues
	playerActions := queue.NewSqliteQueue[game.PlayerAction](db, "player-actions", queue.NewChannelNotifier(), clock)
	modelRequests := queue.NewSqliteQueue[game.ModelRequest](db, "model-requests", queue.NewChannelNotifier(), clock)
	dmActions := queue.NewSqliteQueue[game.DMAction](db, "dm-actions", queue.NewChannelNotifier(), clock)
	assetRequests := queue.NewSqliteQueue[game.AssetRequest](db, "asset-requests", queue.NewChannelNotifier(), clock)

	// Effects and approvals
	executor := &effect.Executor{
		Flags:         worldStore,
		Challenges:    worldStore,
		Events:        worldStore,
		Inventory:     worldStore,
		Relationships: worldStore,
		Stats:         worldStore,
		Scenes:        worldStore,
		Publisher:     bus,
	}
	staging := approval.NewStagingCoordinator(modelRequests, worldStore, world.FallbackCast(regions), registry, bus, clock)
	outcomes := approval.NewOutcomeCoordinator(executor, modelRequests, registry, bus, clock, cfg.Approvals.MaxRetries)

	// Queue workers
	recovery := cfg.Queues.recoveryInterval()
	playerWorker := queue.NewWorker("player-actions", playerActions,
		approval.NewPlayerActionHandler(registry, worldStore, triggers, outcomes, modelRequests, staging, worldStore, game.SystemRandom(), clock), recovery, bus)
	modelWorker := queue.NewWorker("model-requests", modelRequests,
		approval.NewModelRequestHandler(chatClient, staging, outcomes, regions), recovery, bus)
	dmWorker := queue.NewWorker("dm-actions", dmActions,
		approval.NewDMActionHandler(staging, outcomes, registry, triggers, executor, worldStore), recovery, bus)
	assetWorker := queue.NewWorker("asset-requests", assetRequests,
		genai.NewAssetRequestHandler(imageClient, registry), recovery, bus)

	// Inbound edge
	gateway := messaging.NewGateway(nats, registry, delivery, playerActions, dmActions, assetRequests)

	// Periodic maintenance
	staleAge := cfg.Queues.staleAge()
	pendingExpiry := cfg.Queues.pendingExpiry()
	retainAge := cfg.Queues.retainAge()
	var driverOpts []driver.EngineDriverOpt
	if tick := cfg.tickInterval(); tick > 0 {
		driverOpts = append(driverOpts, driver.WithTickLength(tick))
	}
	sweeper := driver.NewEngineDriver([]driver.Manager{
		driver.NewQueueSweep("player-actions", playerActions, staleAge, pendingExpiry, retainAge),
		driver.NewQueueSweep("model-requests", modelRequests, staleAge, pendingExpiry, retainAge),
		driver.NewQueueSweep("dm-actions", dmActions, staleAge, pendingExpiry, retainAge),
		driver.NewQueueSweep("asset-requests", assetRequests, staleAge, pendingExpiry, retainAge),
		driver.NewApprovalExpiry(staging, cfg.Approvals.timeout()),
	}, driverOpts...)

	return service.WorkerList{
		"nats":                 nats,
		"gateway":              gateway,
		"player-action-worker": playerWorker,
		"model-request-worker": modelWorker,
		"dm-action-worker":     dmWorker,
		"asset-request-worker": assetWorker,
		"driver":               sweeper,
	}, nil
}
