package netcore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_OutputQueue_singleWriterRoundTrip(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(16))

	n, err := q.AddData([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	got, err := q.GetData(buf)
	require.NoError(t, err)
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(buf))

	require.NoError(t, q.RemoveData(5))

	got, err = q.GetData(buf)
	require.NoError(t, err)
	require.Equal(t, 0, got)
}

func Test_OutputQueue_spillsAcrossBlocks(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(16))

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	n, err := q.AddData(payload)
	require.NoError(t, err)
	require.Equal(t, 40, n)
	require.Equal(t, int32(3), q.blockCount.Load()) // 40 bytes over 16-byte blocks spans 3 blocks

	out := make([]byte, 40)
	got, err := q.GetData(out)
	require.NoError(t, err)
	require.Equal(t, 40, got)
	require.Equal(t, payload, out)
}

func Test_OutputQueue_removeDataFreesConsumedBlocks(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(16))
	_, err := q.AddData(make([]byte, 40))
	require.NoError(t, err)
	require.Equal(t, int32(3), q.blockCount.Load())

	require.NoError(t, q.RemoveData(16))
	require.Equal(t, int32(2), q.blockCount.Load())

	require.NoError(t, q.RemoveData(16))
	require.Equal(t, int32(1), q.blockCount.Load())
}

// Test_OutputQueue_outOfOrderRetireAdvancesOnlyContiguous reproduces the
// case where a second writer's range retires before the first writer's:
// the watermark must hold at the first writer's reservation until it
// retires, then jump past both ranges in one advance. This drives the
// unexported retire method directly, bypassing AddData's own blocking
// wait so the out-of-order sequence can be forced deterministically.
func Test_OutputQueue_outOfOrderRetireAdvancesOnlyContiguous(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(64))

	raw := q.state.v.Load()
	offs, watermark, writers := unpackOutputState(raw)
	require.Equal(t, uint32(0), offs)
	require.Equal(t, uint32(0), watermark)

	// Reserve two ranges, [0,5) and [5,10), as if two writers had both
	// already won their CAS in AddData.
	writers |= 1 << 0
	writers |= 1 << 1
	require.True(t, q.state.v.CompareAndSwap(raw, packOutputState(10, watermark, writers)))
	q.growExclusive(1)

	done := make(chan int, 1)
	go func() {
		done <- q.retire(0, 0, 5)
	}()

	// The second writer's bytes land first: its retire must spin until
	// the first writer retires, since the watermark is still behind it.
	advancedSecond := 0
	select {
	case advancedSecond = <-done:
		t.Fatal("first writer's retire returned before it should have")
	default:
	}
	advancedSecond = q.retire(1, 5, 10)
	require.Equal(t, 0, advancedSecond, "second writer's retire must not advance the watermark past a gap")

	advancedFirst := <-done
	require.Equal(t, 5, advancedFirst)

	_, watermark, _ = unpackOutputState(q.state.v.Load())
	require.Equal(t, uint32(10), watermark, "completing the gap must also absorb the pending range behind it")
}

func Test_OutputQueue_concurrentWriters(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(64))

	const writers = 4
	const chunk = 100
	var wg sync.WaitGroup
	wg.Add(writers)
	var totalAdvanced [writers]int
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			defer wg.Done()
			p := make([]byte, chunk)
			for i := range p {
				p[i] = byte(w)
			}
			n, err := q.AddData(p)
			require.NoError(t, err)
			totalAdvanced[w] = n
		}()
	}
	wg.Wait()

	sum := 0
	for _, a := range totalAdvanced {
		sum += a
	}
	require.Equal(t, writers*chunk, sum, "every byte must eventually be accounted newly-readable exactly once")

	out := make([]byte, writers*chunk)
	got, err := q.GetData(out)
	require.NoError(t, err)
	require.Equal(t, writers*chunk, got)
}

// Test_OutputQueue_moreWritersThanSlotsNeverErrors drives more than
// maxOutputWriters concurrent AddData callers at once. Per spec §7, a
// saturated writer bitmask must be retried internally rather than
// surfaced as an error or dropped bytes.
func Test_OutputQueue_moreWritersThanSlotsNeverErrors(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(64))

	const writers = maxOutputWriters * 3
	const chunk = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	errs := make([]error, writers)
	ns := make([]int, writers)
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			defer wg.Done()
			ns[w], errs[w] = q.AddData(make([]byte, chunk))
		}()
	}
	wg.Wait()

	sum := 0
	for i, err := range errs {
		require.NoError(t, err)
		sum += ns[i]
	}
	require.Equal(t, writers*chunk, sum)

	out := make([]byte, writers*chunk)
	got, err := q.GetData(out)
	require.NoError(t, err)
	require.Equal(t, writers*chunk, got)
}

func Test_OutputQueue_addData_RejectsOversizedChunk(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(16))
	_, err := q.AddData(make([]byte, outputOffsMask+1))
	require.ErrorIs(t, err, ErrChunkTooLarge)
}

func Test_OutputQueue_close_DrainsThenReturnsCause(t *testing.T) {
	q := NewOutputQueue(WithBlockSize(16))
	_, err := q.AddData([]byte("hi"))
	require.NoError(t, err)

	cause := WrapError("netcore: socket closed", ErrOutputQueueClosed)
	q.Close(cause)

	buf := make([]byte, 2)
	n, err := q.GetData(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, q.RemoveData(2))

	n, err = q.GetData(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, cause)

	_, err = q.AddData([]byte("x"))
	require.ErrorIs(t, err, ErrOutputQueueClosed)
}
