// Package meta parses .torrent metainfo and locates the playable media
// file inside a bundle.
package meta

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	bencode "github.com/jackpal/bencode-go"
)

var ErrNoPlayableFile = errors.New("meta: no playable file in torrent")

type MetaInfo struct {
	Info struct {
		PieceLength int64  `bencode:"piece length"`
		Pieces      string `bencode:"pieces"`
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
		Files       []struct {
			Length int64    `bencode:"length"`
			Path   []string `bencode:"path"`
		} `bencode:"files"`
	} `bencode:"info"`
	Announce string `bencode:"announce"`
}

// FileInfo describes one file of the bundle, with its absolute byte offset
// inside the torrent's piece space.
type FileInfo struct {
	Index  int
	Path   string
	Length int64
	Offset int64
}

type Torrent struct {
	metaInfo  *MetaInfo
	infoHash  []byte
	numPieces int
	files     []FileInfo
}

func NewTorrent(r io.ReadSeeker) (*Torrent, error) {
	raw, err := bencode.Decode(r)
	if err != nil {
		return nil, err
	}
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("meta: malformed torrent file")
	}
	infoMap, ok := rawMap["info"]
	if !ok {
		return nil, fmt.Errorf("meta: torrent file has no info dictionary")
	}

	infoBencode := &bytes.Buffer{}
	if err := bencode.Marshal(infoBencode, infoMap); err != nil {
		return nil, err
	}
	infoHash := sha1.Sum(infoBencode.Bytes())

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	t := &Torrent{infoHash: infoHash[:], metaInfo: &MetaInfo{}}
	if err := bencode.Unmarshal(r, t.metaInfo); err != nil {
		return nil, err
	}
	t.numPieces = len(t.metaInfo.Info.Pieces) / 20

	offset := int64(0)
	if len(t.metaInfo.Info.Files) > 0 {
		// multiple file mode
		for i, file := range t.metaInfo.Info.Files {
			t.files = append(t.files, FileInfo{
				Index:  i,
				Path:   strings.Join(file.Path, "/"),
				Length: file.Length,
				Offset: offset,
			})
			offset += file.Length
		}
	} else {
		// single file mode
		t.files = append(t.files, FileInfo{
			Path:   t.metaInfo.Info.Name,
			Length: t.metaInfo.Info.Length,
		})
	}
	return t, nil
}

func (t *Torrent) Name() string {
	return t.metaInfo.Info.Name
}

func (t *Torrent) InfoHashHex() string {
	return hex.EncodeToString(t.infoHash)
}

func (t *Torrent) PieceLength() int64 {
	return t.metaInfo.Info.PieceLength
}

func (t *Torrent) NumPieces() int {
	return t.numPieces
}

func (t *Torrent) Files() []FileInfo {
	return t.files
}

func (t *Torrent) TotalLength() int64 {
	total := int64(0)
	for _, f := range t.files {
		total += f.Length
	}
	return total
}

// FindPlayable picks the largest file carrying one of the given
// extensions. Extensions are matched case-insensitively, with or without a
// leading dot.
func FindPlayable(files []FileInfo, extensions []string) (FileInfo, error) {
	best := -1
	for i, f := range files {
		if !hasExtension(f.Path, extensions) {
			continue
		}
		if best < 0 || f.Length > files[best].Length {
			best = i
		}
	}
	if best < 0 {
		return FileInfo{}, ErrNoPlayableFile
	}
	return files[best], nil
}

func hasExtension(path string, extensions []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, candidate := range extensions {
		if ext == strings.TrimPrefix(strings.ToLower(candidate), ".") {
			return true
		}
	}
	return false
}

// ContentType maps a file name to the media type served in responses.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".ts":
		return "video/MP2T"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".srt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
