package log

import (
	"bufio"
	"os"
	"sync"

	"github.com/ganeshkbhat/lifeline/container/queue"
)

// StdLogger writes to stderr through an MPSC queue so logging call
// sites never block on the terminal.
type StdLogger struct {
	*logger
	bw    *bufio.Writer
	queue *queue.MPSCQueue[logInfo]
	wg    sync.WaitGroup
}

func NewStdLogger(level uint64) *StdLogger {
	l := &StdLogger{
		bw:    bufio.NewWriterSize(os.Stderr, logWriterSize),
		queue: queue.NewMPSCQueue[logInfo](0, logQueueShrinkSize),
	}
	l.logger = newLogger(l, level)
	l.wg.Add(1)
	go l.serve()
	return l
}

func (l *StdLogger) handle(info logInfo) {
	l.queue.Push(info)
}

func (l *StdLogger) Shutdown() {
	l.queue.Close()
	l.wg.Wait()
}

func (l *StdLogger) serve() {
	var buf []byte
	defer l.wg.Done()
	defer l.bw.Flush()
	for {
		infos, ok := l.queue.Pop()
		if !ok {
			return
		}
		for _, info := range infos {
			if cap(buf) >= logBufferSize {
				buf = []byte{}
			} else {
				buf = buf[:0]
			}
			l.formatLogInfo(&buf, info)
			l.bw.Write(buf)
		}
		l.bw.Flush()
	}
}
