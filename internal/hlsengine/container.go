package hlsengine

import (
	"bytes"
	"errors"
)

// ErrUnknownContainer is returned for fragments that are neither MPEG-TS nor
// fragmented MP4.
var ErrUnknownContainer = errors.New("unrecognised fragment container")

const tsPacketSize = 188

var mp4Boxes = [][]byte{[]byte("ftyp"), []byte("styp"), []byte("moof"), []byte("sidx")}

// sniffContainer checks the first bytes of a fragment. MPEG-TS needs the sync
// byte at the start of each of the first packets present; fMP4 needs a known
// top-level box type at offset 4.
func sniffContainer(data []byte) (string, error) {
	if len(data) >= tsPacketSize && data[0] == 0x47 {
		packets := len(data) / tsPacketSize
		if packets > 3 {
			packets = 3
		}
		ok := true
		for i := 0; i < packets; i++ {
			if data[i*tsPacketSize] != 0x47 {
				ok = false
				break
			}
		}
		if ok {
			return "mpegts", nil
		}
	}
	if len(data) >= 8 {
		for _, box := range mp4Boxes {
			if bytes.Equal(data[4:8], box) {
				return "fmp4", nil
			}
		}
	}
	return "", ErrUnknownContainer
}
