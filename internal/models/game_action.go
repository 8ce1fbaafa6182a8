// internal/models/game_action.go
package models

import "github.com/google/uuid"

// SessionAction is one journaled mutation of a match session, as pushed to the
// Redis action queue and persisted by the historian.
type SessionAction struct {
	SessionID     uuid.UUID              `json:"session_id"`
	Version       uint64                 `json:"version"`
	ActorUserID   uuid.UUID              `json:"actor_user_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}
