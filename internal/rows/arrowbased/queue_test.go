package arrowbased

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	q := NewQueue[int]()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Dequeue())
	assert.Nil(t, q.Peek())

	one, two, three := 1, 2, 3
	q.Enqueue(&one)
	q.Enqueue(&two)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, &one, q.Peek())

	assert.Equal(t, &one, q.Dequeue())
	q.Enqueue(&three)
	assert.Equal(t, &two, q.Dequeue())
	assert.Equal(t, &three, q.Dequeue())
	assert.Nil(t, q.Dequeue())

	q.Enqueue(&one)
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Peek())
}
