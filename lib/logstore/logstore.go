// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package logstore is the content-addressed store for step output.
// Step results embed small outputs directly; anything larger lands
// here, keyed by hash, so identical outputs (a flaky step re-run, the
// same lint banner on every push) are stored once.
//
// Entries are compressed on the way in. The probe picks zstd for
// text-like payloads, LZ4 when the ratio is marginal, and stores
// incompressible data as is. The on-disk record is a small header
// (compression tag and uncompressed size) followed by the payload,
// sharded into two directory levels by key prefix.
package logstore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of an entry's uncompressed bytes.
type Hash [32]byte

// outputDomainKey is the BLAKE3 key for output hashing. Domain
// separation keeps logstore keys from colliding with hashes computed
// elsewhere over the same bytes. The value is the ASCII domain name,
// zero-padded to 32 bytes, readable in hex dumps.
var outputDomainKey = [32]byte{
	'c', 'o', 'n', 'v', 'e', 'y', 'o', 'r', '.', 'l', 'o', 'g', 's', 't', 'o', 'r',
	'e', '.', 'o', 'u', 't', 'p', 'u', 't', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Compression tags stored in entry headers. Protocol constants:
// changing them breaks existing stores.
const (
	compressionNone uint8 = 0
	compressionLZ4  uint8 = 1
	compressionZstd uint8 = 2
)

// headerSize is the fixed entry header: 1 tag byte plus the
// uncompressed size as a little-endian uint64.
const headerSize = 1 + 8

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("logstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("logstore: zstd decoder initialization failed: " + err.Error())
	}
}

// HashOutput computes the logstore key hash for the given bytes.
func HashOutput(data []byte) Hash {
	hasher, err := blake3.NewKeyed(outputDomainKey[:])
	if err != nil {
		panic("logstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatKey returns the canonical hex form of a hash, as stored in
// StepResult.OutputHash.
func FormatKey(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseKey parses a 64-character hex key.
func ParseKey(key string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(key)
	if err != nil {
		return hash, fmt.Errorf("parsing logstore key: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("logstore key is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// Store is a content-addressed output store rooted at one directory.
// Safe for concurrent use: writes are atomic (temp file plus rename)
// and entries are immutable once present.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Open creates or reopens a store at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("logstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: creating %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Put stores data and returns its key. Storing bytes that are already
// present is a cheap no-op returning the same key.
func (s *Store) Put(data []byte) (string, error) {
	hash := HashOutput(data)
	key := FormatKey(hash)
	path := s.entryPath(key)

	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	payload, tag := compress(data)
	record := make([]byte, headerSize+len(payload))
	record[0] = tag
	binary.LittleEndian.PutUint64(record[1:headerSize], uint64(len(data)))
	copy(record[headerSize:], payload)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("logstore: creating shard directory: %w", err)
	}

	// Atomic write: temp file in the store root, then rename. A
	// concurrent Put of the same bytes renames an identical record,
	// so last-rename-wins is harmless.
	tmp, err := os.CreateTemp(s.dir, "put-*.tmp")
	if err != nil {
		return "", fmt.Errorf("logstore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("logstore: writing entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("logstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("logstore: storing entry %s: %w", key, err)
	}

	s.logger.Debug("stored step output",
		"key", key,
		"size", len(data),
		"stored_size", len(record),
		"compression", compressionName(tag),
	)
	return key, nil
}

// Get retrieves the bytes stored under key. The content is re-hashed
// after decompression; a mismatch means on-disk corruption and is
// reported as an error.
func (s *Store) Get(key string) ([]byte, error) {
	hash, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	record, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("logstore: no entry %s", key)
		}
		return nil, fmt.Errorf("logstore: reading entry %s: %w", key, err)
	}
	if len(record) < headerSize {
		return nil, fmt.Errorf("logstore: entry %s is truncated (%d bytes)", key, len(record))
	}

	tag := record[0]
	size := binary.LittleEndian.Uint64(record[1:headerSize])
	data, err := decompress(record[headerSize:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("logstore: entry %s: %w", key, err)
	}

	if HashOutput(data) != hash {
		return nil, fmt.Errorf("logstore: entry %s failed hash verification", key)
	}
	return data, nil
}

// Has reports whether an entry exists for key.
func (s *Store) Has(key string) bool {
	if _, err := ParseKey(key); err != nil {
		return false
	}
	_, err := os.Stat(s.entryPath(key))
	return err == nil
}

// Remove deletes the entry for key. Removing a missing entry is not
// an error; history pruning retries on partial failures.
func (s *Store) Remove(key string) error {
	if _, err := ParseKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logstore: removing entry %s: %w", key, err)
	}
	return nil
}

// entryPath shards entries into two directory levels by key prefix:
// <dir>/<key[:2]>/<key[2:4]>/<key>.
func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, key[:2], key[2:4], key)
}

// compress picks an algorithm by probing the zstd ratio: zstd when it
// clearly pays (>= 1.5x), LZ4 for marginal ratios, and no compression
// otherwise. Step output is usually text, so zstd wins most of the
// time; the probe catches steps that emit binary or already-compressed
// data.
func compress(data []byte) ([]byte, uint8) {
	if len(data) == 0 {
		return data, compressionNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return compressed, compressionZstd
	case ratio >= 1.1:
		if lz4Compressed, ok := compressLZ4(data); ok {
			return lz4Compressed, compressionLZ4
		}
		return compressed, compressionZstd
	default:
		return data, compressionNone
	}
}

func compressLZ4(data []byte) ([]byte, bool) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	// CompressBlock returns 0 for incompressible data.
	if err != nil || written == 0 || written >= len(data) {
		return nil, false
	}
	return destination[:written], true
}

func decompress(payload []byte, tag uint8, uncompressedSize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("stored size %d does not match header %d", len(payload), uncompressedSize)
		}
		return payload, nil

	case compressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case compressionZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown compression tag %d", tag)
	}
}

func compressionName(tag uint8) string {
	switch tag {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}
