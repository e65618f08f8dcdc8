package pipecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// On-disk layout: a 16-byte header followed by one lz4 frame holding the
// blob.
//
//	magic   [4]byte  "HCPC"
//	version uint16   formatVersion
//	_       uint16
//	size    uint64   uncompressed blob length
const (
	headerSize    = 16
	formatVersion = 1
)

var magic = [4]byte{'H', 'C', 'P', 'C'}

func encode(w io.Writer, blob []byte, level lz4.CompressionLevel) error {
	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], formatVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(blob)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	zw := lz4.NewWriter(w)
	if err := zw.Apply(
		lz4.CompressionLevelOption(level),
		lz4.ChecksumOption(true),
		lz4.SizeOption(uint64(len(blob))),
	); err != nil {
		return err
	}
	if _, err := zw.Write(blob); err != nil {
		return err
	}
	return zw.Close()
}

// decode reads one entry. maxSize bounds the declared blob length so a
// corrupt header cannot force a huge allocation.
func decode(r io.Reader, maxSize uint64) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrStale, v)
	}
	size := binary.LittleEndian.Uint64(hdr[8:16])
	if size > maxSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds %d", ErrCorrupt, size, maxSize)
	}

	blob := make([]byte, size)
	zr := lz4.NewReader(r)
	if _, err := io.ReadFull(zr, blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// Reading to the end of the frame verifies the content checksum.
	var extra [1]byte
	n, err := zr.Read(extra[:])
	if n != 0 {
		return nil, fmt.Errorf("%w: trailing data after %d bytes", ErrCorrupt, size)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return blob, nil
}
