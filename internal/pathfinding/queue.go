package pathfinding

// Состояние ячейки в рамках одного поиска
const (
	stateOpen uint8 = iota + 1
	stateClosed
)

// searchNode — запись поиска для одной ячейки. Живёт только в пределах вызова FindPath.
type searchNode struct {
	cell   int     // Плоский индекс ячейки
	g      float64 // Стоимость от старта
	h      float64 // Эвристика до цели
	parent int     // Индекс предка, -1 у старта
	seq    uint64  // Порядок обнаружения
	state  uint8
	index  int // Позиция в куче
}

func (n *searchNode) f() float64 { return n.g + n.h }

// openSet — двоичная куча по (f, h, seq)
type openSet []*searchNode

func (q openSet) Len() int { return len(q) }

func (q openSet) Less(i, j int) bool {
	fi, fj := q[i].f(), q[j].f()
	if fi != fj {
		return fi < fj
	}
	if q[i].h != q[j].h {
		return q[i].h < q[j].h
	}
	return q[i].seq < q[j].seq
}

func (q openSet) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openSet) Push(x any) {
	n := x.(*searchNode)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *openSet) Pop() any {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*q = old[:last]
	return n
}
