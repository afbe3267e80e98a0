package file

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/farwydi/bookaware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(n int) *bookaware.Message {
	return &bookaware.Message{
		Topic:   "homeassistant/sensor/library_books/books_due_total/state",
		Payload: []byte(strconv.Itoa(n)),
	}
}

func openTemp(t *testing.T) *os.File {
	tempFile, err := os.CreateTemp(t.TempDir(), "bookaware")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tempFile.Close() })
	return tempFile
}

func TestRace(t *testing.T) {
	q, err := NewQueue(openTemp(t))
	require.NoError(t, err)

	countWorker := 20
	var c int32
	var wg sync.WaitGroup
	wg.Add(countWorker * 2)
	for i := 0; i < countWorker; i++ {
		go func() {
			defer wg.Done()

			for n := 0; n < 500; n++ {
				err := q.Push(msg(n))
				assert.NoError(t, err)
				atomic.AddInt32(&c, 1)
			}
		}()
		go func() {
			defer wg.Done()

			for n := 0; n < 5; n++ {
				m, err := q.Eject(200)
				assert.NoError(t, err)
				atomic.AddInt32(&c, -1*int32(len(m)))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, c, q.Len())

	msgs, err := q.Eject(-1)
	assert.NoError(t, err)
	require.EqualValues(t, c, len(msgs))
}

func TestPushEjectReopen(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			require.NotNil(t, q)

			assert.NoError(t, q.Push(msg(1)))
			assert.NoError(t, q.Push(msg(2)))

			stat, err := tempFile.Stat()
			require.NoError(t, err)
			require.NoError(t, tempFile.Close())
			tempFile, err = os.OpenFile(tempFile.Name(), os.O_RDWR, stat.Mode())
			require.NoError(t, err)

			q, err = NewQueue(tempFile)
			require.NoError(t, err)
			assert.Equal(t, 2, q.Len())

			assert.NoError(t, q.Push(msg(3)))

			msgs, err := q.Eject(-1)
			assert.NoError(t, err)

			require.Equal(t, 3, len(msgs))
			assert.Equal(t, "1", string(msgs[0].Payload))
			assert.Equal(t, "2", string(msgs[1].Payload))
			assert.Equal(t, "3", string(msgs[2].Payload))

			msgs, err = q.Eject(100)
			assert.NoError(t, err)
			require.Equal(t, 0, len(msgs))
		})
	}
}

func TestPartialEjectSurvivesReopen(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	for n := 0; n < 5; n++ {
		require.NoError(t, q.Push(msg(n)))
	}

	msgs, err := q.Eject(2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, tempFile.Close())
	tempFile, err = os.OpenFile(tempFile.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tempFile.Close()

	q, err = NewQueue(tempFile)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Len())

	msgs, err = q.Eject(-1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "2", string(msgs[0].Payload))
}

func TestDrainedQueueIsTruncated(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	require.NoError(t, q.Push(msg(1)))

	_, err = q.Eject(-1)
	require.NoError(t, err)

	stat, err := tempFile.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, DataOffset, stat.Size())
}

func TestTooLarge(t *testing.T) {
	q, err := NewQueue(openTemp(t))
	require.NoError(t, err)

	err = q.Push(&bookaware.Message{Topic: "t", Payload: make([]byte, 70000)})
	assert.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestCorruptedFileIsRotated(t *testing.T) {
	dir := t.TempDir()
	topic := "homeassistant/sensor/library_books/closest_due_date/state"
	cfg := Config{Workspace: dir, MaxHistory: 2}

	q, err := NewQueueByTopic(topic, cfg)
	require.NoError(t, err)
	require.NoError(t, q.Push(msg(1)))
	require.NoError(t, q.Close())

	path := filepath.Join(dir, FileName(topic))
	for i := 0; i < 3; i++ {
		// flip a payload byte so the checksum no longer matches
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{'#'}, DataOffset+MetaElementSize+2)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		q, err = NewQueueByTopic(topic, cfg)
		require.NoError(t, err)
		assert.Equal(t, 0, q.Len())
		require.NoError(t, q.Push(msg(1)))
		require.NoError(t, q.Close())
	}

	name := FileName(topic)
	base := name[:len(name)-len("_0.bd")]
	assert.FileExists(t, filepath.Join(dir, base+"_0.corrupted"))
	assert.FileExists(t, filepath.Join(dir, base+"_1.corrupted"))
	assert.NoFileExists(t, filepath.Join(dir, base+"_2.corrupted"))
}

func TestFailedPushLeavesQueueIntact(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	require.NoError(t, q.Push(msg(1)))
	require.NoError(t, q.Push(msg(2)))
	require.NoError(t, tempFile.Close())

	readOnly, err := os.Open(tempFile.Name())
	require.NoError(t, err)
	q, err = NewQueue(readOnly)
	require.NoError(t, err)
	assert.Error(t, q.Push(msg(3)))
	assert.Equal(t, 2, q.Len())
	require.NoError(t, readOnly.Close())

	tempFile, err = os.OpenFile(tempFile.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tempFile.Close()

	q, err = NewQueue(tempFile)
	require.NoError(t, err)
	msgs, err := q.Eject(-1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", string(msgs[1].Payload))
}

func TestRestoreDropsPartialRecord(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	require.NoError(t, q.Push(msg(1)))

	end, err := tempFile.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	// a length prefix whose body never made it to disk
	_, err = tempFile.Write([]byte{0, 42})
	require.NoError(t, err)

	cause := errors.New("no space left on device")
	assert.ErrorIs(t, q.restore(end, cause), cause)

	require.NoError(t, q.Push(msg(2)))
	msgs, err := q.Eject(1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", string(msgs[0].Payload))

	require.NoError(t, tempFile.Close())
	tempFile, err = os.OpenFile(tempFile.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tempFile.Close()

	q, err = NewQueue(tempFile)
	require.NoError(t, err)
	msgs, err = q.Eject(-1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", string(msgs[0].Payload))
}

func TestEjectSkipsUndecodableRecord(t *testing.T) {
	tempFile := openTemp(t)

	q, err := NewQueue(tempFile)
	require.NoError(t, err)
	for n := 1; n <= 3; n++ {
		require.NoError(t, q.Push(msg(n)))
	}

	first, err := msg(1).MarshalBinary()
	require.NoError(t, err)
	second := DataOffset + MetaElementSize + int64(len(first)) + MetaElementSize
	_, err = tempFile.WriteAt([]byte{'#'}, second)
	require.NoError(t, err)

	msgs, err := q.Eject(-1)
	assert.ErrorIs(t, err, ErrInvalidFile)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", string(msgs[0].Payload))
	assert.Equal(t, "3", string(msgs[1].Payload))
	assert.Equal(t, 0, q.Len())

	require.NoError(t, q.Push(msg(4)))
	msgs, err = q.Eject(-1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "4", string(msgs[0].Payload))
}
