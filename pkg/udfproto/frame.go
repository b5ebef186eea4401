package udfproto

import (
	"fmt"
	"io"
)

// FrameLength returns the msgLen announced by a frame prefix. ok is false
// until at least four bytes are available.
func FrameLength(prefix []byte) (n int, ok bool) {
	if len(prefix) < lenSize {
		return 0, false
	}
	return int(byteOrder.Uint32(prefix)), true
}

// PeekSeqNum returns the sequence number of a frame without decoding it.
func PeekSeqNum(frame []byte) (int64, bool) {
	if len(frame) < PrefixSize {
		return 0, false
	}
	return int64(byteOrder.Uint64(frame[lenSize:PrefixSize])), true
}

// PutSeqNum overwrites the sequence number of an encoded frame in place.
func PutSeqNum(frame []byte, seq int64) error {
	if len(frame) < PrefixSize {
		return fmt.Errorf("%w: frame of %d bytes has no sequence number", ErrFramingMismatch, len(frame))
	}
	byteOrder.PutUint64(frame[lenSize:PrefixSize], uint64(seq))
	return nil
}

// CheckFrameLength validates an announced frame length against the smallest
// header a frame of that direction can carry and against maxSize.
func CheckFrameLength(n, minSize, maxSize int) error {
	if n < minSize {
		return fmt.Errorf("%w: announced length %d below header size %d", ErrFramingMismatch, n, minSize)
	}
	if maxSize > 0 && n > maxSize {
		return fmt.Errorf("%w: announced length %d exceeds limit %d", ErrFieldTooLarge, n, maxSize)
	}
	return nil
}

// ReadFrame reads exactly one request frame from r. It is meant for blocking
// stream readers; io.EOF is returned untouched when r ends on a frame
// boundary.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var prefix [lenSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	n, _ := FrameLength(prefix[:])
	if err := CheckFrameLength(n, RequestHeaderSize, maxSize); err != nil {
		return nil, err
	}

	frame := make([]byte, n)
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[lenSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}
