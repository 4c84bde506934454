package protocol

import (
	"errors"
	"io"
)

// JoinPipes combines a read and a write pipe, such as the two halves of a
// FIFO pair, into one stream for framing. Close closes both.
func JoinPipes(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &pipePair{ReadCloser: r, w: w}
}

type pipePair struct {
	io.ReadCloser
	w io.WriteCloser
}

func (p *pipePair) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

func (p *pipePair) Close() error {
	return errors.Join(p.w.Close(), p.ReadCloser.Close())
}
