package comm

import (
	"io"
	"sync"
)

// Pair returns two connected in-memory streams. Writes never block,
// reads block until data arrives or either end is closed.
func Pair() (io.ReadWriteCloser, io.ReadWriteCloser) {
	a, b := newPipeBuffer(), newPipeBuffer()
	return &pipeEnd{r: a, w: b}, &pipeEnd{r: b, w: a}
}

type pipeBuffer struct {
	lock   sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newPipeBuffer() *pipeBuffer {
	b := &pipeBuffer{}
	b.cond = sync.NewCond(&b.lock)
	return b
}

func (b *pipeBuffer) read(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *pipeBuffer) write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *pipeBuffer) close() {
	b.lock.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.lock.Unlock()
}

type pipeEnd struct {
	r, w *pipeBuffer
}

func (e *pipeEnd) Read(p []byte) (int, error)  { return e.r.read(p) }
func (e *pipeEnd) Write(p []byte) (int, error) { return e.w.write(p) }

func (e *pipeEnd) Close() error {
	e.r.close()
	e.w.close()
	return nil
}
