package genai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/worldsmith/engine/internal/game"
	"github.com/worldsmith/engine/internal/queue"
)

// AssetBroadcaster announces finished assets to a world's connections.
// Satisfied by the connection registry.
type AssetBroadcaster interface {
	BroadcastToWorld(ctx context.Context, worldID string, data []byte) int
}

// NewAssetRequestHandler drains the asset generation queue through the
// image client. Generation errors fail the item so the queue records the
// reason and the sweep can retry it.
func NewAssetRequestHandler(images ImageClient, cast AssetBroadcaster) queue.Handler[game.AssetRequest] {
	return func(ctx context.Context, item queue.Item[game.AssetRequest]) error {
		req := item.Payload

		res, err := images.Generate(ctx, ImageRequest{
			WorkflowID: req.WorkflowID,
			Prompt:     req.Prompt,
			Count:      req.Count,
		})
		if err != nil {
			return fmt.Errorf("generating asset for %s %s: %w", req.EntityType, req.EntityID, err)
		}

		msg, err := json.Marshal(map[string]any{
			"type":        "asset_generated",
			"entity_type": req.EntityType,
			"entity_id":   req.EntityID,
			"asset_urls":  res.AssetURLs,
		})
		if err != nil {
			return fmt.Errorf("encoding asset broadcast: %w", err)
		}
		cast.BroadcastToWorld(ctx, req.WorldID, msg)
		return nil
	}
}
