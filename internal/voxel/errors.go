package voxel

import "errors"

var (
	// ErrInvalidConfig — нулевые/отрицательные размеры, размер ячейки или порог
	ErrInvalidConfig = errors.New("voxel: invalid grid configuration")
	// ErrGridNotGenerated — запрос к сетке, которая не была сгенерирована
	ErrGridNotGenerated = errors.New("voxel: grid is not generated")
	// ErrNoWalkableCells — в сетке нет ни одной проходимой ячейки
	ErrNoWalkableCells = errors.New("voxel: grid has no walkable cells")
	// ErrInvalidSnapshot — снимок не соответствует заявленным размерам
	ErrInvalidSnapshot = errors.New("voxel: invalid snapshot")
)
