package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"

	"github.com/farwydi/bookaware"
	"go.uber.org/multierr"
)

// On-disk layout:
//
//	[crc32 of all record bodies][skip-ahead offset][len][body][len][body]...
//
// Ejected records are never rewritten, only skipped; the file is truncated
// back to its header once it drains.
const (
	CRC32HashOffset int64 = 0
	CRC32HashSize   int64 = 4
	SkipAheadOffset       = CRC32HashOffset + CRC32HashSize
	SkipAheadSize   int64 = 8
	DataOffset            = SkipAheadOffset + SkipAheadSize
	HeadSize              = CRC32HashSize + SkipAheadSize
	MetaElementSize       = 2
)

var _ bookaware.Queue = (*Queue)(nil)

func NewQueue(file *os.File) (*Queue, error) {
	return (&Queue{
		file:  file,
		order: binary.BigEndian,
	}).checkFile()
}

type Queue struct {
	file  *os.File
	order binary.ByteOrder
	mx    sync.Mutex

	sum   uint32
	count int
}

func (f *Queue) Len() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.count
}

// Close closes the underlying file.
func (f *Queue) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.file.Close()
}

func (f *Queue) checkFile() (*Queue, error) {
	_, err := f.file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeadSize)

	n, err := io.ReadFull(f.file, buf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			if err := f.writeHead(buf, uint64(DataOffset)); err != nil {
				return nil, err
			}
			return f, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidFile
		}
		return nil, err
	}

	fileSum := f.order.Uint32(buf[0:CRC32HashSize])
	skipAhead := int64(f.order.Uint64(buf[CRC32HashSize:HeadSize]))
	currOffset := DataOffset

	for {
		size, err := f.readMeta(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrInvalidFile
			}
			return nil, err
		}

		currOffset += MetaElementSize

		if len(buf) < size {
			buf = make([]byte, size)
		}

		_, err = io.ReadFull(f.file, buf[:size])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrInvalidFile
			}
			return nil, err
		}

		currOffset += int64(size)
		f.sum = crc32.Update(f.sum, crc32.IEEETable, buf[:size])

		if currOffset > skipAhead {
			f.count++
		}
	}

	if f.sum != fileSum || skipAhead > currOffset {
		return nil, ErrInvalidFile
	}

	return f, nil
}

// writeHead truncates the file to an empty header pointing at skipAhead.
func (f *Queue) writeHead(bs []byte, skipAhead uint64) error {
	if err := f.file.Truncate(0); err != nil {
		return err
	}

	f.sum = 0
	f.order.PutUint32(bs[0:CRC32HashSize], 0)
	f.order.PutUint64(bs[CRC32HashSize:HeadSize], skipAhead)

	if _, err := f.file.WriteAt(bs[0:HeadSize], 0); err != nil {
		return err
	}

	_, err := f.file.Seek(0, io.SeekEnd)
	return err
}

func (f *Queue) readMeta(bs []byte) (size int, err error) {
	metaElementBuf := bs[0:MetaElementSize]

	_, err = io.ReadFull(f.file, metaElementBuf)
	if err != nil {
		return 0, err
	}

	return int(f.order.Uint16(metaElementBuf)), nil
}

func (f *Queue) writeSum(bs []byte, sum uint32) error {
	crc32SumBuf := bs[0:CRC32HashSize]

	f.order.PutUint32(crc32SumBuf, sum)
	_, err := f.file.WriteAt(crc32SumBuf, CRC32HashOffset)
	return err
}

// restore drops everything written past end and puts the stored sum back.
func (f *Queue) restore(end int64, cause error) error {
	err := multierr.Combine(
		cause,
		f.file.Truncate(end),
		f.writeSum(make([]byte, CRC32HashSize), f.sum),
	)
	if _, serr := f.file.Seek(end, io.SeekStart); serr != nil {
		err = multierr.Append(err, serr)
	}
	return err
}

// Push appends msg as a single [len][body] write. A failed write is rolled
// back so the file never holds a partial record.
func (f *Queue) Push(msg *bookaware.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}

	size := len(data)

	if size > math.MaxUint16 {
		return fmt.Errorf("message too large: %d over %d", size, math.MaxUint16)
	}

	record := make([]byte, MetaElementSize+size)
	f.order.PutUint16(record[0:MetaElementSize], uint16(size))
	copy(record[MetaElementSize:], data)

	f.mx.Lock()
	defer f.mx.Unlock()

	end, err := f.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	if _, err := f.file.Write(record); err != nil {
		return f.restore(end, err)
	}

	sum := crc32.Update(f.sum, crc32.IEEETable, data)
	if err := f.writeSum(make([]byte, CRC32HashSize), sum); err != nil {
		return f.restore(end, err)
	}

	f.sum = sum
	f.count++

	return nil
}

// Eject reads up to limit records from the head. Records that cannot be
// decoded are skipped and reported in the returned error; the skip-ahead
// offset always covers exactly what was consumed.
func (f *Queue) Eject(limit int) (msgs []*bookaware.Message, err error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	if limit > f.count || limit < 0 {
		limit = f.count
	}

	if limit == 0 {
		return nil, nil
	}

	msgs = make([]*bookaware.Message, 0, limit)

	buf := make([]byte, HeadSize)
	skipAheadBuf := buf[0:SkipAheadSize]

	_, err = f.file.ReadAt(skipAheadBuf, SkipAheadOffset)
	if err != nil {
		return nil, err
	}

	skipAhead := int64(f.order.Uint64(skipAheadBuf))

	_, err = f.file.Seek(skipAhead, io.SeekStart)
	if err != nil {
		return nil, err
	}

	var readErr error
	for len(msgs) < limit && f.count > 0 {
		size, err := f.readMeta(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}

		if len(buf) < size {
			buf = make([]byte, size)
		}

		dataBuf := buf[0:size]
		_, err = io.ReadFull(f.file, dataBuf)
		if err != nil {
			readErr = err
			break
		}

		recordOffset := skipAhead
		skipAhead += MetaElementSize + int64(size)
		f.count--

		msg := &bookaware.Message{}
		if err := msg.UnmarshalBinary(dataBuf); err != nil {
			readErr = multierr.Append(readErr,
				fmt.Errorf("%w: record at %d skipped: %v", ErrInvalidFile, recordOffset, err))
			continue
		}

		msgs = append(msgs, msg)
	}

	if f.count == 0 {
		return msgs, multierr.Append(readErr, f.writeHead(buf, uint64(DataOffset)))
	}

	f.order.PutUint64(skipAheadBuf, uint64(skipAhead))
	_, err = f.file.WriteAt(skipAheadBuf, SkipAheadOffset)
	if err != nil {
		return msgs, multierr.Append(readErr, err)
	}

	_, err = f.file.Seek(0, io.SeekEnd)
	return msgs, multierr.Append(readErr, err)
}
