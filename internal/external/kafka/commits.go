package rewards

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

type Committer interface {
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// OrderedCommitter фиксирует в каждой партиции только непрерывный префикс
// обработанных сообщений. Необработанное смещение N держит коммит на N,
// даже если более поздние сообщения уже обработаны параллельно.
type OrderedCommitter struct {
	mu         sync.Mutex
	committer  Committer
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []kafka.Message // в порядке чтения
	done    map[int64]bool
}

func NewOrderedCommitter(c Committer) *OrderedCommitter {
	return &OrderedCommitter{committer: c, partitions: make(map[int]*partitionOffsets)}
}

// вызывать в порядке Fetch, до передачи сообщения обработчику
func (o *OrderedCommitter) Track(msg kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		o.partitions[msg.Partition] = p
	}
	p.pending = append(p.pending, msg)
}

// отметить обработанным и зафиксировать готовый префикс
func (o *OrderedCommitter) Done(ctx context.Context, msg kafka.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.partitions[msg.Partition]
	if !ok {
		return nil
	}
	p.done[msg.Offset] = true

	var last *kafka.Message
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		head := p.pending[0]
		delete(p.done, head.Offset)
		p.pending = p.pending[1:]
		last = &head
	}
	if last == nil {
		return nil
	}
	// под мьютексом: коммиты партиции не обгоняют друг друга
	return o.committer.Commit(ctx, *last)
}
