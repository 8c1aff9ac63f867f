package protocol

import (
	"fmt"
	"strings"
)

const (
	// FrameSize is the most payload bytes a single frame carries.
	FrameSize = 64000
	// TagSize is the length of the transfer id prefix on every frame.
	TagSize = 36
)

// FrameCount returns how many frames a payload of size bytes needs.
func FrameCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + FrameSize - 1) / FrameSize)
}

// Tag returns the form of transferID that frames carry: at most TagSize
// bytes, without trailing spaces.
func Tag(transferID string) string {
	if len(transferID) > TagSize {
		transferID = transferID[:TagSize]
	}
	return strings.TrimRight(transferID, " ")
}

// EncodeFrame prefixes data with the transfer id, space padded or truncated
// to TagSize bytes.
func EncodeFrame(transferID string, data []byte) []byte {
	out := make([]byte, TagSize+len(data))
	n := copy(out[:TagSize], transferID)
	for k := n; k < TagSize; k++ {
		out[k] = ' '
	}
	copy(out[TagSize:], data)
	return out
}

// DecodeFrame splits a binary payload into its tag and data. The returned
// data aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < TagSize {
		return Frame{}, fmt.Errorf("%w: frame of %d bytes is shorter than its tag", ErrMalformed, len(b))
	}
	return Frame{
		TransferID: strings.TrimRight(string(b[:TagSize]), " "),
		Data:       b[TagSize:],
	}, nil
}
