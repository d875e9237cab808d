package proto

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderPutWithBody(t *testing.T) {
	d := NewDecoder(strings.NewReader("put 1 0 60 5\r\nhello\r\n"), DefaultMaxJobSize)
	tokens, err := d.ReadCommand()
	require.NoError(t, err)
	require.Len(t, tokens, 6)
	assert.Equal(t, Name("put"), tokens[0])
	assert.Equal(t, Integer(1), tokens[1])
	assert.Equal(t, Integer(0), tokens[2])
	assert.Equal(t, Integer(60), tokens[3])
	assert.Equal(t, BytesTok([]byte("hello")), tokens[5])
}

func TestDecoderNonPutNoBody(t *testing.T) {
	d := NewDecoder(strings.NewReader("use foo\r\n"), DefaultMaxJobSize)
	tokens, err := d.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []Token{Name("use"), Name("foo")}, tokens)
}

func TestDecoderExpectedCRLF(t *testing.T) {
	// body length says 1 but two bytes follow without a terminating CRLF.
	d := NewDecoder(strings.NewReader("put 1 0 60 1\r\nyy"), DefaultMaxJobSize)
	_, err := d.ReadCommand()
	assert.Equal(t, ErrExpectedCRLF, err)
}

func TestDecoderJobTooBig(t *testing.T) {
	d := NewDecoder(strings.NewReader("put 1 0 60 10\r\n0123456789\r\n"), 4)
	_, err := d.ReadCommand()
	assert.Equal(t, ErrJobTooBig, err)
}

func TestDecoderIntegerOverflow(t *testing.T) {
	d := NewDecoder(strings.NewReader("release 99999999999999999999 0 0\r\n"), DefaultMaxJobSize)
	_, err := d.ReadCommand()
	assert.Equal(t, ErrBadFormat, err)
}

func TestDecoderNameCannotStartWithHyphen(t *testing.T) {
	d := NewDecoder(strings.NewReader("use -bad\r\n"), DefaultMaxJobSize)
	_, err := d.ReadCommand()
	assert.Equal(t, ErrBadFormat, err)
}

func TestDecoderLineTooLong(t *testing.T) {
	huge := "use " + strings.Repeat("a", MaxLineSize+10) + "\r\n"
	d := NewDecoder(strings.NewReader(huge), DefaultMaxJobSize)
	_, err := d.ReadCommand()
	assert.Equal(t, Desync{ErrBadFormat}, err)
}

func TestDecoderPartialReadsBlockUntilFrameComplete(t *testing.T) {
	pr, pw := io.Pipe()
	d := NewDecoder(pr, DefaultMaxJobSize)

	done := make(chan struct{})
	var tokens []Token
	var err error
	go func() {
		tokens, err = d.ReadCommand()
		close(done)
	}()

	pw.Write([]byte("put 1 0 6"))
	select {
	case <-done:
		t.Fatal("ReadCommand returned before the frame was complete")
	default:
	}
	pw.Write([]byte("0 5\r\nhel"))
	select {
	case <-done:
		t.Fatal("ReadCommand returned before the body was complete")
	default:
	}
	pw.Write([]byte("lo\r\n"))
	<-done

	require.NoError(t, err)
	require.Len(t, tokens, 6)
	assert.Equal(t, []byte("hello"), tokens[5].Bytes)
}

func TestEncodeRoundTripShape(t *testing.T) {
	out := Encode([]Token{Name("RESERVED"), Integer(1), Integer(5), CRLF, BytesTok([]byte("hello")), CRLF})
	assert.Equal(t, "RESERVED 1 5\r\nhello\r\n", string(out))
}

func TestEncodeSingleLine(t *testing.T) {
	out := Encode([]Token{Name("INSERTED"), Integer(42)})
	assert.Equal(t, "INSERTED 42\r\n", string(out))
}

func TestEncodeNoTrailingTokens(t *testing.T) {
	out := Encode(nil)
	assert.Len(t, out, 0)
}

func TestCodecRoundTrip(t *testing.T) {
	tokens := []Token{Name("put"), Integer(1), Integer(0), Integer(60), Integer(5)}
	line := Encode(tokens)
	line = bytes.TrimSuffix(line, []byte("\r\n"))
	line = append(line, "\r\nhello\r\n"...)

	d := NewDecoder(bytes.NewReader(line), DefaultMaxJobSize)
	got, err := d.ReadCommand()
	require.NoError(t, err)
	want := append(append([]Token{}, tokens...), BytesTok([]byte("hello")))
	assert.Equal(t, want, got)
}
