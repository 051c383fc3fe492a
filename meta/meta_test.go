package meta

import (
	"bytes"
	"testing"

	bencode "github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTorrent(t *testing.T, info map[string]interface{}) *bytes.Reader {
	t.Helper()
	buf := &bytes.Buffer{}
	err := bencode.Marshal(buf, map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info":     info,
	})
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestSingleFileTorrent(t *testing.T) {
	tor, err := NewTorrent(encodeTorrent(t, map[string]interface{}{
		"name":         "movie.mkv",
		"length":       int64(1 << 20),
		"piece length": int64(1 << 18),
		"pieces":       string(make([]byte, 20*4)),
	}))
	require.NoError(t, err)

	assert.Equal(t, "movie.mkv", tor.Name())
	assert.Equal(t, 4, tor.NumPieces())
	assert.Equal(t, int64(1<<18), tor.PieceLength())
	assert.Len(t, tor.InfoHashHex(), 40)

	files := tor.Files()
	require.Len(t, files, 1)
	assert.Equal(t, int64(1<<20), files[0].Length)
	assert.Equal(t, int64(0), files[0].Offset)
	assert.Equal(t, int64(1<<20), tor.TotalLength())
}

func TestMultiFileTorrentOffsets(t *testing.T) {
	tor, err := NewTorrent(encodeTorrent(t, map[string]interface{}{
		"name":         "bundle",
		"piece length": int64(1 << 18),
		"pieces":       string(make([]byte, 20*8)),
		"files": []interface{}{
			map[string]interface{}{"length": int64(100), "path": []interface{}{"readme.txt"}},
			map[string]interface{}{"length": int64(5000), "path": []interface{}{"video", "movie.mp4"}},
			map[string]interface{}{"length": int64(300), "path": []interface{}{"sample.mp4"}},
		},
	}))
	require.NoError(t, err)

	files := tor.Files()
	require.Len(t, files, 3)
	assert.Equal(t, "video/movie.mp4", files[1].Path)
	assert.Equal(t, int64(100), files[1].Offset)
	assert.Equal(t, int64(5100), files[2].Offset)
	assert.Equal(t, int64(5400), tor.TotalLength())
}

func TestFindPlayablePicksLargestMatch(t *testing.T) {
	files := []FileInfo{
		{Index: 0, Path: "readme.txt", Length: 100},
		{Index: 1, Path: "sample.mp4", Length: 300},
		{Index: 2, Path: "video/movie.mp4", Length: 5000},
	}
	playable, err := FindPlayable(files, []string{"mp4", "mkv"})
	require.NoError(t, err)
	assert.Equal(t, 2, playable.Index)

	_, err = FindPlayable(files[:1], []string{"mp4"})
	assert.Equal(t, ErrNoPlayableFile, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/x-matroska", ContentType("Movie.MKV"))
	assert.Equal(t, "video/mp4", ContentType("clip.mp4"))
	assert.Equal(t, "application/octet-stream", ContentType("data.bin"))
}

func TestMalformedTorrent(t *testing.T) {
	_, err := NewTorrent(bytes.NewReader([]byte("not bencode at all")))
	assert.Error(t, err)
}
