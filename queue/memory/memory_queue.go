package memory

import (
	"container/list"
	"sync"

	"github.com/farwydi/bookaware"
)

var _ bookaware.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{
		buffer: list.New(),
	}
}

type Queue struct {
	buffer *list.List
	mx     sync.Mutex
}

func (m *Queue) Eject(limit int) (msgs []*bookaware.Message, err error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if limit > m.buffer.Len() || limit < 0 {
		limit = m.buffer.Len()
	}

	if limit == 0 {
		return nil, nil
	}

	msgs = make([]*bookaware.Message, 0, limit)
	for e := m.buffer.Front(); e != nil && len(msgs) < limit; {
		cur := e
		e = e.Next()
		msgs = append(msgs, m.buffer.Remove(cur).(*bookaware.Message))
	}
	return msgs, nil
}

func (m *Queue) Push(msg *bookaware.Message) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.buffer.PushBack(msg)
	return nil
}

func (m *Queue) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.buffer.Len()
}
