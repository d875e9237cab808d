// Package proto frames the Beanstalk text protocol into tokens and
// parses those tokens into typed commands.
package proto

import (
	"bytes"
	"strconv"
)

// TokenKind distinguishes the wire-level token variants.
type TokenKind uint8

const (
	KindName TokenKind = iota
	KindInteger
	KindBytes
	// KindCRLF is synthetic: it never arrives on the wire as its own
	// token, but is used to shape multi-line responses on encode.
	KindCRLF
)

// Token is one field of a command or response frame.
type Token struct {
	Kind  TokenKind
	Name  string
	Int   uint32
	Bytes []byte
}

func Name(s string) Token     { return Token{Kind: KindName, Name: s} }
func Integer(v uint32) Token  { return Token{Kind: KindInteger, Int: v} }
func BytesTok(b []byte) Token { return Token{Kind: KindBytes, Bytes: b} }

// CRLF is the synthetic separator token used to inject "\r\n" inside a
// response, e.g. between a job's header and its body.
var CRLF = Token{Kind: KindCRLF}

// Encode renders tokens as a response frame: fields joined by single
// spaces and terminated by "\r\n". A CRLF token emits "\r\n" directly
// and suppresses the space separator on either side of it. Bytes
// tokens are emitted raw.
func Encode(tokens []Token) []byte {
	var buf bytes.Buffer
	atLineStart := true
	for _, t := range tokens {
		switch t.Kind {
		case KindCRLF:
			buf.WriteString("\r\n")
			atLineStart = true
		case KindBytes:
			buf.Write(t.Bytes)
			atLineStart = false
		case KindName:
			if !atLineStart {
				buf.WriteByte(' ')
			}
			buf.WriteString(t.Name)
			atLineStart = false
		case KindInteger:
			if !atLineStart {
				buf.WriteByte(' ')
			}
			buf.WriteString(strconv.FormatUint(uint64(t.Int), 10))
			atLineStart = false
		}
	}
	if !atLineStart {
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
