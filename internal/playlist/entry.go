package playlist

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Class is the classification tag of a playlist entry
type Class int

const (
	Valid       Class = iota // Playable MIDI data
	Unsupported              // Readable, but not a format we can play
	Error                    // Unreadable, or the engine failed on it
)

// String returns a human-readable representation of the Class
func (c Class) String() string {
	switch c {
	case Valid:
		return "valid"
	case Unsupported:
		return "unsupported"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one track in the playlist
type Entry struct {
	Path  string // Absolute, cleaned file path
	Title string // Derived display title (may be empty)
	Class Class
}

// DisplayName returns the title, falling back to the file name
func (e Entry) DisplayName() string {
	if e.Title != "" {
		return e.Title
	}
	return filepath.Base(e.Path)
}

// midiExtensions lists file suffixes treated as MIDI when expanding
// directories and archives
var midiExtensions = []string{".mid", ".midi", ".kar", ".rmi", ".smf"}

// IsMIDIName reports whether the file name has a MIDI extension
func IsMIDIName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range midiExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Normalize returns the absolute, cleaned form of path used for
// duplicate detection
func Normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// headerProbeSize bounds how much of a file is read when classifying it
const headerProbeSize = 64 * 1024

// Inspect builds an Entry for path by probing the file contents
func Inspect(path string) Entry {
	e := Entry{Path: path}

	f, err := os.Open(path)
	if err != nil {
		e.Class = Error
		return e
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, headerProbeSize))
	if err != nil {
		e.Class = Error
		return e
	}

	smf, ok := locateSMF(data)
	if !ok {
		e.Class = Unsupported
		return e
	}

	e.Class = Valid
	e.Title = trackName(smf)
	return e
}

// Probe classifies the file at path
func Probe(path string) Class {
	return Inspect(path).Class
}

// locateSMF returns the Standard MIDI File data inside data, unwrapping a
// RIFF RMID container if present
func locateSMF(data []byte) ([]byte, bool) {
	if len(data) >= 14 && bytes.Equal(data[:4], []byte("MThd")) {
		return data, true
	}

	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("RMID")) {
		return nil, false
	}

	p := 12
	for p+8 <= len(data) {
		id := data[p : p+4]
		size := int(binary.LittleEndian.Uint32(data[p+4 : p+8]))
		p += 8
		if bytes.Equal(id, []byte("data")) {
			end := min(p+size, len(data))
			if end-p >= 14 && bytes.Equal(data[p:p+4], []byte("MThd")) {
				return data[p:end], true
			}
			return nil, false
		}
		// RIFF chunks are padded to even sizes
		p += size + size&1
	}
	return nil, false
}

// trackName returns the sequence/track name meta event of the first track,
// if it appears before the first channel event
func trackName(smf []byte) string {
	headerLen := int(binary.BigEndian.Uint32(smf[4:8]))
	p := 8 + headerLen

	for p+8 <= len(smf) {
		id := smf[p : p+4]
		size := int(binary.BigEndian.Uint32(smf[p+4 : p+8]))
		p += 8
		if !bytes.Equal(id, []byte("MTrk")) {
			p += size
			continue
		}
		end := min(p+size, len(smf))
		return scanTrackName(smf[p:end])
	}
	return ""
}

func scanTrackName(trk []byte) string {
	p := 0
	for p < len(trk) {
		// Delta time
		_, n := readVarLen(trk[p:])
		if n == 0 {
			return ""
		}
		p += n
		if p >= len(trk) {
			return ""
		}

		switch status := trk[p]; {
		case status == 0xFF:
			if p+2 > len(trk) {
				return ""
			}
			metaType := trk[p+1]
			length, n := readVarLen(trk[p+2:])
			if n == 0 {
				return ""
			}
			start := p + 2 + n
			stop := start + length
			if stop > len(trk) {
				return ""
			}
			if metaType == 0x03 && length > 0 {
				return strings.TrimSpace(strings.ToValidUTF8(string(trk[start:stop]), ""))
			}
			p = stop
		case status == 0xF0 || status == 0xF7:
			length, n := readVarLen(trk[p+1:])
			if n == 0 {
				return ""
			}
			p += 1 + n + length
		default:
			return ""
		}
	}
	return ""
}

// readVarLen decodes a MIDI variable-length quantity. It returns the value
// and the number of bytes consumed, or 0 bytes if data is malformed.
func readVarLen(data []byte) (int, int) {
	value := 0
	for i := 0; i < len(data) && i < 4; i++ {
		value = value<<7 | int(data[i]&0x7F)
		if data[i]&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}
