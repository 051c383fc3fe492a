package piece

import (
	"errors"
	"fmt"

	"github.com/exzos28/torrent-streamer/byterange"
)

// ErrNoPieceLength is returned when the piece length is not known yet
// (metadata still being fetched).
var ErrNoPieceLength = errors.New("piece: piece length unknown")

// Range is an inclusive span of piece indices.
type Range struct {
	Start int
	End   int
}

func (r Range) Count() int {
	return r.End - r.Start + 1
}

func (r Range) Contains(index int) bool {
	return index >= r.Start && index <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// Map converts a byte range into the inclusive range of pieces it overlaps.
func Map(r byterange.ByteRange, pieceLength int64) (Range, error) {
	if pieceLength <= 0 {
		return Range{}, ErrNoPieceLength
	}
	return Range{
		Start: int(r.Start / pieceLength),
		End:   int(r.End / pieceLength),
	}, nil
}

// MapBuffered extends the mapped range forward by a read-ahead byte budget,
// clamped to the content length. The start piece is never buffered backward.
func MapBuffered(r byterange.ByteRange, pieceLength, readahead, contentLength int64) (Range, error) {
	pr, err := Map(r, pieceLength)
	if err != nil {
		return Range{}, err
	}
	if readahead <= 0 {
		return pr, nil
	}
	// byte offset at the end of the last required piece, pushed forward
	end := int64(pr.End+1)*pieceLength - 1 + readahead
	if end > contentLength-1 {
		end = contentLength - 1
	}
	if buffered := int(end / pieceLength); buffered > pr.End {
		pr.End = buffered
	}
	return pr, nil
}
