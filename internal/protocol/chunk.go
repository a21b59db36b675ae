package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"
)

// DefaultChunkSize is the slice size used for chunked world transfers.
const DefaultChunkSize = 2 << 20

var (
	ErrNoTransfer = errors.New("no transfer in progress")
	ErrChunkIndex = errors.New("chunk index out of range")
	ErrIncomplete = errors.New("transfer incomplete")
	ErrTooLarge   = errors.New("transfer too large")
)

// Split cuts serialized JSON into slices of at most size bytes. Cuts never
// fall inside a UTF-8 sequence, since every slice travels as a JSON string.
func Split(data []byte, size int) [][]byte {
	if size < utf8.UTFMax {
		size = utf8.UTFMax
	}
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n >= len(data) {
			out = append(out, data)
			break
		}
		for n > 0 && !utf8.RuneStart(data[n]) {
			n--
		}
		if n == 0 {
			n = size
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// MaxChunks bounds the chunk count a start message may declare. At the
// default chunk size it allows far more than any transfer the relay accepts.
const MaxChunks = 1 << 16

// checkTotals validates the totals of a start message against maxSize
// (zero means unbounded).
func checkTotals(totalChunks, totalSize, maxSize int) error {
	if totalChunks < 0 || totalSize < 0 {
		return fmt.Errorf("%w: negative totals", ErrMalformed)
	}
	if totalChunks > MaxChunks || totalChunks > totalSize+1 {
		return fmt.Errorf("%w: %d chunks for %d bytes", ErrMalformed, totalChunks, totalSize)
	}
	if maxSize > 0 && totalSize > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, totalSize)
	}
	return nil
}

// Reassembler collects the chunks of one transfer and joins them by index.
// Memory grows only with chunks that arrive, never past the declared size.
// It is not safe for concurrent use.
type Reassembler struct {
	// MaxSize bounds the declared total size; zero means unbounded.
	MaxSize int

	total  int
	size   int
	bytes  int
	chunks map[int][]byte
}

func NewReassembler(maxSize int) *Reassembler {
	return &Reassembler{MaxSize: maxSize, total: -1}
}

// Active reports whether a start has been seen and not yet consumed by End.
func (r *Reassembler) Active() bool { return r.total >= 0 }

// Progress reports how many distinct chunks arrived out of the declared total.
func (r *Reassembler) Progress() (received, total int) {
	if !r.Active() {
		return 0, 0
	}
	return len(r.chunks), r.total
}

// Start discards any partial transfer and prepares for a new one.
func (r *Reassembler) Start(totalChunks, totalSize int) error {
	r.reset()
	if err := checkTotals(totalChunks, totalSize, r.MaxSize); err != nil {
		return err
	}
	r.total = totalChunks
	r.size = totalSize
	r.chunks = make(map[int][]byte)
	return nil
}

// Add stores a chunk. Indices may arrive in any order; a repeated index
// replaces the earlier data. Data beyond the declared size aborts the transfer.
func (r *Reassembler) Add(index int, data []byte) error {
	if !r.Active() {
		return ErrNoTransfer
	}
	if index < 0 || index >= r.total {
		return fmt.Errorf("%w: %d of %d", ErrChunkIndex, index, r.total)
	}
	bytes := r.bytes - len(r.chunks[index]) + len(data)
	if bytes > r.size {
		r.reset()
		return fmt.Errorf("%w: chunks exceed declared %d bytes", ErrTooLarge, r.size)
	}
	r.bytes = bytes
	r.chunks[index] = slices.Clone(data)
	return nil
}

// End joins the chunks in index order and validates the result as JSON.
// Without a prior Start it returns ErrNoTransfer and changes nothing.
func (r *Reassembler) End() (json.RawMessage, error) {
	if !r.Active() {
		return nil, ErrNoTransfer
	}
	defer r.reset()
	if len(r.chunks) != r.total {
		return nil, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, len(r.chunks), r.total)
	}
	buf := make([]byte, 0, r.bytes)
	for i := range r.total {
		buf = append(buf, r.chunks[i]...)
	}
	if !json.Valid(buf) {
		return nil, fmt.Errorf("%w: reassembled payload is not JSON", ErrMalformed)
	}
	return json.RawMessage(buf), nil
}

func (r *Reassembler) reset() {
	r.total = -1
	r.size = 0
	r.bytes = 0
	r.chunks = nil
}

// Tracker follows a transfer passing through without keeping its data: it
// records which indices arrived and how many bytes they carry.
type Tracker struct {
	MaxSize int

	total int
	size  int
	bytes int
	seen  map[int]int
}

// TransferStats summarizes a completed transfer.
type TransferStats struct {
	Bytes  int
	Chunks int
}

func NewTracker(maxSize int) *Tracker {
	return &Tracker{MaxSize: maxSize, total: -1}
}

func (t *Tracker) Active() bool { return t.total >= 0 }

func (t *Tracker) Start(totalChunks, totalSize int) error {
	t.reset()
	if err := checkTotals(totalChunks, totalSize, t.MaxSize); err != nil {
		return err
	}
	t.total = totalChunks
	t.size = totalSize
	t.seen = make(map[int]int)
	return nil
}

func (t *Tracker) Add(index, n int) error {
	if !t.Active() {
		return ErrNoTransfer
	}
	if index < 0 || index >= t.total {
		return fmt.Errorf("%w: %d of %d", ErrChunkIndex, index, t.total)
	}
	bytes := t.bytes - t.seen[index] + n
	if bytes > t.size {
		t.reset()
		return fmt.Errorf("%w: chunks exceed declared %d bytes", ErrTooLarge, t.size)
	}
	t.bytes = bytes
	t.seen[index] = n
	return nil
}

// End reports the finished transfer, or ErrIncomplete if indices are missing.
func (t *Tracker) End() (TransferStats, error) {
	if !t.Active() {
		return TransferStats{}, ErrNoTransfer
	}
	defer t.reset()
	if len(t.seen) != t.total {
		return TransferStats{}, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, len(t.seen), t.total)
	}
	return TransferStats{Bytes: t.bytes, Chunks: t.total}, nil
}

func (t *Tracker) reset() {
	t.total = -1
	t.size = 0
	t.bytes = 0
	t.seen = nil
}
