package pathfinding

import "errors"

var (
	// ErrNoPath — открытое множество исчерпано, цель недостижима
	ErrNoPath = errors.New("pathfinding: no path found")
	// ErrSearchTimeout — исчерпан бюджет итераций или времени
	ErrSearchTimeout = errors.New("pathfinding: search budget exhausted")
)
