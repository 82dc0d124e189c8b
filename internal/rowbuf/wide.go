package rowbuf

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"copytable/internal/copyerr"
)

// WideScratchSize bounds one decoded wide character value.
const WideScratchSize = 64 * 1024

const errWideOverflow = "Output buffer size is greater than max blob chunk size."

// WideDecoder turns UTF-16LE payloads into UTF-8 inside a fixed scratch buffer.
// It is not safe for concurrent use; each source owns one.
type WideDecoder struct {
	dec     *encoding.Decoder
	scratch []byte
}

func NewWideDecoder() *WideDecoder {
	return &WideDecoder{
		dec:     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder(),
		scratch: make([]byte, WideScratchSize),
	}
}

// Decode converts src. The result aliases the scratch buffer and is only
// valid until the next call. A value that does not fit is a logic error.
func (w *WideDecoder) Decode(src []byte) ([]byte, error) {
	w.dec.Reset()
	nDst, nSrc, err := w.dec.Transform(w.scratch, src, true)
	if err != nil {
		if errors.Is(err, transform.ErrShortDst) {
			return nil, copyerr.Logic(errWideOverflow)
		}
		return nil, errors.Wrap(err, "decoding wide character data")
	}
	if nSrc != len(src) {
		return nil, copyerr.Logic(errWideOverflow)
	}
	return w.scratch[:nDst], nil
}

// Check applies the same bound to text the driver already decoded.
func (w *WideDecoder) Check(s string) error {
	if len(s) > len(w.scratch) {
		return copyerr.Logic(errWideOverflow)
	}
	return nil
}
