package physics

import "gonum.org/v1/gonum/spatial/r3"

// ObstacleQuery сообщает, занята ли сферическая область мира.
// Реализации должны быть безопасны для конкурентного чтения:
// генерация сетки опрашивает их из нескольких горутин.
type ObstacleQuery interface {
	Occupied(center r3.Vec, radius float64) bool
}

// QueryFunc адаптирует обычную функцию к ObstacleQuery
type QueryFunc func(center r3.Vec, radius float64) bool

// Occupied вызывает f(center, radius)
func (f QueryFunc) Occupied(center r3.Vec, radius float64) bool {
	return f(center, radius)
}

// EmptyWorld — мир без препятствий
var EmptyWorld ObstacleQuery = QueryFunc(func(r3.Vec, float64) bool { return false })
