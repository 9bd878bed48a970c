package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBusClosed — публикация в закрытую шину
var ErrBusClosed = errors.New("eventbus: bus is closed")

// Типы событий навигации
const (
	EventGridGenerated = "GridGenerated"
	EventGridDeleted   = "GridDeleted"
	EventPathFound     = "PathFound"
	EventPathNotFound  = "PathNotFound"
)

// PayloadVersion — текущая версия схемы полезной нагрузки
const PayloadVersion = 1

// GridGeneratedPayload — сетка построена или восстановлена
type GridGeneratedPayload struct {
	GridID     string  `json:"grid_id"`
	Name       string  `json:"name,omitempty"`
	DimX       int     `json:"dim_x"`
	DimY       int     `json:"dim_y"`
	DimZ       int     `json:"dim_z"`
	CellSize   float64 `json:"cell_size"`
	Walkable   int     `json:"walkable"`
	Unwalkable int     `json:"unwalkable"`
	Restored   bool    `json:"restored,omitempty"`
}

// GridDeletedPayload — сетка удалена
type GridDeletedPayload struct {
	GridID string `json:"grid_id"`
}

// PathPayload — итог поиска пути (найден или нет)
type PathPayload struct {
	GridID    string   `json:"grid_id"`
	Start     r3.Vec   `json:"start"`
	Goal      r3.Vec   `json:"goal"`
	Waypoints []r3.Vec `json:"waypoints,omitempty"`
	Cost      float64  `json:"cost"`
	Expanded  int      `json:"expanded"`
	Cached    bool     `json:"cached"`
}

// NewEnvelope сериализует payload в JSON и заворачивает его в Envelope
func NewEnvelope(eventType, source string, priority int, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   PayloadVersion,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode распаковывает Payload в out
func (ev *Envelope) Decode(out any) error {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return fmt.Errorf("eventbus: decode %s payload: %w", ev.EventType, err)
	}
	return nil
}
