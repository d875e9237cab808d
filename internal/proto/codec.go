package proto

import (
	"bufio"
	"bytes"
	"io"
)

// Framing limits, per the protocol's wire contract.
const (
	MaxLineSize       = 8 * 224 // 1792 bytes
	MaxNameSize       = 8 * 200 // 1600 bytes
	DefaultMaxJobSize = 65535
)

var nameChar [256]bool

func init() {
	for c := '0'; c <= '9'; c++ {
		nameChar[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		nameChar[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		nameChar[c] = true
	}
	for _, c := range []byte("-+/;.$_()") {
		nameChar[c] = true
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Decoder frames an inbound byte stream into command token sequences.
// One Decoder serves exactly one connection; it is not safe for
// concurrent use.
type Decoder struct {
	r          *bufio.Reader
	maxJobSize int
	lineBuf    []byte
}

// NewDecoder wraps r. maxJobSize bounds the body of a put command (the
// MAX_JOB_SIZE configuration knob).
func NewDecoder(r io.Reader, maxJobSize int) *Decoder {
	return &Decoder{
		r:          bufio.NewReaderSize(r, 4096),
		maxJobSize: maxJobSize,
		lineBuf:    make([]byte, 0, 256),
	}
}

// ReadCommand blocks until one full command frame (command line, plus
// body for put) is available and returns its tokens. Framing failures
// are returned as ProtoError values from this package, or as a Desync
// wrapping one when the line overran MaxLineSize; any other
// error (including io.EOF) indicates the underlying connection is
// gone.
func (d *Decoder) ReadCommand() ([]Token, error) {
	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	tokens, err := tokenizeLine(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrBadFormat
	}
	if tokens[0].Kind == KindName && tokens[0].Name == "put" {
		return d.readPutBody(tokens)
	}
	return tokens, nil
}

// readLine reads bytes up to and including the next "\r\n", enforcing
// MaxLineSize, and returns the line with the trailing CRLF stripped.
func (d *Decoder) readLine() ([]byte, error) {
	d.lineBuf = d.lineBuf[:0]
	for {
		chunk, err := d.r.ReadSlice('\n')
		d.lineBuf = append(d.lineBuf, chunk...)
		if len(d.lineBuf) > MaxLineSize {
			return nil, Desync{ErrBadFormat}
		}
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
	if len(d.lineBuf) < 2 || d.lineBuf[len(d.lineBuf)-2] != '\r' {
		return nil, ErrBadFormat
	}
	return d.lineBuf[:len(d.lineBuf)-2], nil
}

func (d *Decoder) readPutBody(tokens []Token) ([]Token, error) {
	last := tokens[len(tokens)-1]
	if last.Kind != KindInteger {
		// Wrong arity/shape; let the command parser report BAD_FORMAT.
		return tokens, nil
	}
	n := last.Int
	if int64(n) > int64(d.maxJobSize) {
		// Drain the body the client is about to send so the stream
		// stays framed, then report the error.
		if err := d.discard(int64(n) + 2); err != nil {
			return nil, err
		}
		return nil, ErrJobTooBig
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	cr, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if cr != '\r' {
		return nil, ErrExpectedCRLF
	}
	lf, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if lf != '\n' {
		return nil, ErrExpectedCRLF
	}
	return append(tokens, BytesTok(body)), nil
}

func (d *Decoder) discard(n int64) error {
	_, err := io.CopyN(io.Discard, d.r, n)
	return err
}

// tokenizeLine splits a command line (without its trailing CRLF) into
// Name/Integer tokens.
func tokenizeLine(line []byte) ([]Token, error) {
	fields := bytes.Fields(line)
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		c := f[0]
		switch {
		case isDigit(c):
			v, ok := parseUint32(f)
			if !ok {
				return nil, ErrBadFormat
			}
			tokens = append(tokens, Integer(v))
		case c != '-' && int(c) < len(nameChar) && nameChar[c]:
			if len(f) > MaxNameSize {
				return nil, ErrBadFormat
			}
			if !allNameChars(f) {
				return nil, ErrBadFormat
			}
			tokens = append(tokens, Name(string(f)))
		default:
			return nil, ErrBadFormat
		}
	}
	return tokens, nil
}

func allNameChars(f []byte) bool {
	for _, c := range f {
		if !nameChar[c] {
			return false
		}
	}
	return true
}

// parseUint32 parses an all-digit byte slice as an unsigned 32-bit
// decimal, reporting overflow.
func parseUint32(f []byte) (uint32, bool) {
	var v uint64
	for _, c := range f {
		if !isDigit(c) {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
		if v > 1<<32-1 {
			return 0, false
		}
	}
	return uint32(v), true
}
