package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами
// (индексы ячеек воксельной сетки)
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// ChebyshevTo возвращает расстояние Чебышёва (максимум модулей разностей по осям)
func (v Vec3) ChebyshevTo(other Vec3) int {
	d := v.Sub(other)
	return max(abs(d.X), abs(d.Y), abs(d.Z))
}

// IsZero проверяет, что все компоненты равны нулю
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// NeighborOffsets26 содержит все смещения {-1,0,1}^3 кроме нулевого.
// Порядок фиксирован: x, затем y, затем z, от -1 к 1.
var NeighborOffsets26 = buildNeighborOffsets()

func buildNeighborOffsets() [26]Vec3 {
	var offsets [26]Vec3
	i := 0
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				offsets[i] = Vec3{X: x, Y: y, Z: z}
				i++
			}
		}
	}
	return offsets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
