package arrowbased

// Queue is a FIFO of pointers, not safe for concurrent use.
type Queue[ItemType any] interface {
	Enqueue(item *ItemType)
	Dequeue() *ItemType
	Peek() *ItemType
	Clear()
	Len() int
}

func NewQueue[ItemType any]() Queue[ItemType] {
	return &queue[ItemType]{}
}

type queue[ItemType any] struct {
	items []*ItemType
}

var _ Queue[any] = (*queue[any])(nil)

func (q *queue[ItemType]) Enqueue(item *ItemType) {
	q.items = append(q.items, item)
}

// Dequeue returns nil if the queue is empty.
func (q *queue[ItemType]) Dequeue() *ItemType {
	if len(q.items) == 0 {
		return nil
	}

	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item
}

func (q *queue[ItemType]) Peek() *ItemType {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *queue[ItemType]) Clear() {
	q.items = nil
}

func (q *queue[ItemType]) Len() int {
	return len(q.items)
}
