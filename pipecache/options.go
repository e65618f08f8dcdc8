package pipecache

import "github.com/pierrec/lz4/v4"

// Default configuration constants.
const (
	// DefaultMemoryBudget is the byte budget of the in-memory tier.
	DefaultMemoryBudget = 64 << 20

	// DefaultMaxBlobSize bounds a single stored blob.
	DefaultMaxBlobSize = 256 << 20
)

// Option configures a Store.
//
// Example:
//
//	store, err := pipecache.Open(dir,
//		pipecache.WithMemoryBudget(16<<20),
//		pipecache.WithCompressionLevel(lz4.Level9))
type Option func(*options)

type options struct {
	memoryBudget int64
	maxBlobSize  uint64
	level        lz4.CompressionLevel
}

func defaultOptions() options {
	return options{
		memoryBudget: DefaultMemoryBudget,
		maxBlobSize:  DefaultMaxBlobSize,
		level:        lz4.Fast,
	}
}

// WithMemoryBudget sets the in-memory tier budget in bytes. Zero disables
// the memory tier.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) {
		if bytes >= 0 {
			o.memoryBudget = bytes
		}
	}
}

// WithMaxBlobSize bounds the size of a single blob. Save rejects larger
// blobs and Load treats larger declared sizes as corruption.
func WithMaxBlobSize(bytes uint64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.maxBlobSize = bytes
		}
	}
}

// WithCompressionLevel sets the lz4 level used by Save.
func WithCompressionLevel(level lz4.CompressionLevel) Option {
	return func(o *options) {
		o.level = level
	}
}
