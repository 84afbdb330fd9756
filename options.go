package netcore

// poolOptions holds configuration resolved from PoolOption values, per
// spec §6 Config: threads, contention_factor.
type poolOptions struct {
	name             string
	threads          int
	contentionFactor int
	metricsEnabled   bool
	logger           Logger
}

// PoolOption configures a WorkPool at construction.
type PoolOption interface {
	applyPool(*poolOptions)
}

type poolOptionFunc func(*poolOptions)

func (f poolOptionFunc) applyPool(o *poolOptions) { f(o) }

// WithThreads sets the number of worker goroutines. Must be >= 1; values
// below 1 are clamped to 1.
func WithThreads(n int) PoolOption {
	return poolOptionFunc(func(o *poolOptions) {
		if n < 1 {
			n = 1
		}
		o.threads = n
	})
}

// WithContentionFactor sets K, the number of run queues in the bank.
// Defaults to 8 per spec §4.3. Values below 1 are clamped to 1.
func WithContentionFactor(k int) PoolOption {
	return poolOptionFunc(func(o *poolOptions) {
		if k < 1 {
			k = 1
		}
		o.contentionFactor = k
	})
}

// WithPoolName sets the pool's name in its configuration. Log entries
// identify the pool by its numeric ID, not by this name.
func WithPoolName(name string) PoolOption {
	return poolOptionFunc(func(o *poolOptions) {
		o.name = name
	})
}

// WithPoolMetrics enables per-task latency (Metrics.Latency) and
// run-queue depth (Metrics.Queue) collection. Disabled by default; adds
// a percentile-estimator update per task. The pool does not update
// Metrics.TPS.
func WithPoolMetrics(enabled bool) PoolOption {
	return poolOptionFunc(func(o *poolOptions) {
		o.metricsEnabled = enabled
	})
}

// WithPoolLogger attaches a structured Logger to this pool instance,
// overriding the package-level global logger for its log entries.
func WithPoolLogger(l Logger) PoolOption {
	return poolOptionFunc(func(o *poolOptions) {
		o.logger = l
	})
}

// resolvePoolOptions applies defaults then options, per spec §4.3 (K
// defaults to 8, threads defaults to 1 if unset).
func resolvePoolOptions(opts []PoolOption) *poolOptions {
	cfg := &poolOptions{
		threads:          1,
		contentionFactor: 8,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyPool(cfg)
	}
	return cfg
}

// queueOptions holds configuration shared by OutputQueue and InputQueue,
// per spec §6 Config: use_direct_buffers, block_size.
type queueOptions struct {
	useDirectBuffers bool
	blockSize        int
	logger           Logger
	metricsEnabled   bool
}

// QueueOption configures an OutputQueue or InputQueue at construction.
type QueueOption interface {
	applyQueue(*queueOptions)
}

type queueOptionFunc func(*queueOptions)

func (f queueOptionFunc) applyQueue(o *queueOptions) { f(o) }

// WithDirectBuffers selects OS-backed (mmap) block allocation instead of
// Go heap byte slices, mirroring a Java ByteBuffer.allocateDirect().
func WithDirectBuffers(enabled bool) QueueOption {
	return queueOptionFunc(func(o *queueOptions) {
		o.useDirectBuffers = enabled
	})
}

// WithBlockSize sets the fixed capacity of each DataBlock in bytes.
// Values below 1 are clamped to the package default.
func WithBlockSize(n int) QueueOption {
	return queueOptionFunc(func(o *queueOptions) {
		if n < 1 {
			n = defaultBlockSize
		}
		o.blockSize = n
	})
}

// WithQueueLogger attaches a structured Logger to this queue instance.
func WithQueueLogger(l Logger) QueueOption {
	return queueOptionFunc(func(o *queueOptions) {
		o.logger = l
	})
}

// WithQueueMetrics enables block-chain depth tracking in Metrics.Queue.
// Bytes written or read are not counted.
func WithQueueMetrics(enabled bool) QueueOption {
	return queueOptionFunc(func(o *queueOptions) {
		o.metricsEnabled = enabled
	})
}

// defaultBlockSize is used when WithBlockSize is not supplied.
const defaultBlockSize = 64 * 1024

// resolveQueueOptions applies defaults then options.
func resolveQueueOptions(opts []QueueOption) *queueOptions {
	cfg := &queueOptions{
		blockSize: defaultBlockSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyQueue(cfg)
	}
	return cfg
}
