package piece

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exzos28/torrent-streamer/byterange"
)

func TestMap(t *testing.T) {
	pr, err := Map(byterange.ByteRange{Start: 0, End: 999}, 256)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 3}, pr)
	assert.Equal(t, 4, pr.Count())

	// range inside one piece
	pr, err = Map(byterange.ByteRange{Start: 300, End: 400}, 256)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 1, End: 1}, pr)

	// start piece <= end piece always holds
	pr, err = Map(byterange.ByteRange{Start: 255, End: 256}, 256)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 1}, pr)
}

func TestMapNoPieceLength(t *testing.T) {
	_, err := Map(byterange.ByteRange{Start: 0, End: 10}, 0)
	assert.Equal(t, ErrNoPieceLength, err)
}

func TestMapBuffered(t *testing.T) {
	// one extra piece of read-ahead
	pr, err := MapBuffered(byterange.ByteRange{Start: 0, End: 255}, 256, 256, 10000)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 1}, pr)

	// read-ahead clamps at content length
	pr, err = MapBuffered(byterange.ByteRange{Start: 0, End: 255}, 256, 1<<20, 1000)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 3}, pr)

	// the start piece is never buffered backward
	pr, err = MapBuffered(byterange.ByteRange{Start: 512, End: 600}, 256, 512, 10000)
	assert.NoError(t, err)
	assert.Equal(t, 2, pr.Start)

	// zero read-ahead leaves the range untouched
	pr, err = MapBuffered(byterange.ByteRange{Start: 512, End: 600}, 256, 0, 10000)
	assert.NoError(t, err)
	assert.Equal(t, Range{Start: 2, End: 2}, pr)
}
