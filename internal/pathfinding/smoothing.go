package pathfinding

import "gonum.org/v1/gonum/spatial/r3"

// SmoothCatmullRom строит сплайн Катмулла-Рома через все точки пути.
// Для крайних сегментов концевые точки дублируются как фантомные контрольные,
// поэтому первая и последняя точки сохраняются. На каждый сегмент приходится
// resolution точек; при resolution < 1 или менее чем двух точках
// возвращается копия входа.
func SmoothCatmullRom(points []r3.Vec, resolution int) []r3.Vec {
	if len(points) < 2 || resolution < 1 {
		return append([]r3.Vec(nil), points...)
	}

	last := len(points) - 1
	out := make([]r3.Vec, 0, last*resolution+1)

	for i := 0; i < last; i++ {
		p0 := points[max(i-1, 0)]
		p1 := points[i]
		p2 := points[i+1]
		p3 := points[min(i+2, last)]

		for j := 0; j < resolution; j++ {
			t := float64(j) / float64(resolution)
			out = append(out, catmullRom(p0, p1, p2, p3, t))
		}
	}

	return append(out, points[last])
}

// catmullRom вычисляет точку сегмента p1-p2 при параметре t ∈ [0,1]
func catmullRom(p0, p1, p2, p3 r3.Vec, t float64) r3.Vec {
	t2 := t * t
	t3 := t2 * t

	a := r3.Scale(2, p1)
	b := r3.Scale(t, r3.Sub(p2, p0))
	c := r3.Scale(t2, r3.Add(r3.Sub(r3.Scale(2, p0), r3.Scale(5, p1)), r3.Sub(r3.Scale(4, p2), p3)))
	d := r3.Scale(t3, r3.Add(r3.Sub(r3.Scale(3, p1), p0), r3.Sub(p3, r3.Scale(3, p2))))

	return r3.Scale(0.5, r3.Add(r3.Add(a, b), r3.Add(c, d)))
}

// PathCost возвращает сумму длин сегментов ломаной
func PathCost(points []r3.Vec) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += distance(points[i-1], points[i])
	}
	return total
}
