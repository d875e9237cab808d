package proto

// ProtoError is a canonical single-token error reply. Every handler in
// the server returns either a response frame or one of these; the
// connection driver serializes both the same way.
type ProtoError string

func (e ProtoError) Error() string { return string(e) }

// Canonical error tokens, per the Beanstalk protocol.
const (
	ErrBadFormat    ProtoError = "BAD_FORMAT"
	ErrExpectedCRLF ProtoError = "EXPECTED_CRLF"
	ErrJobTooBig    ProtoError = "JOB_TOO_BIG"
	ErrNotFound     ProtoError = "NOT_FOUND"
	ErrNotIgnored   ProtoError = "NOT_IGNORED"
	ErrDeadlineSoon ProtoError = "DEADLINE_SOON"
	ErrTimedOut     ProtoError = "TIMED_OUT"
	ErrDraining     ProtoError = "DRAINING"
	ErrInternal     ProtoError = "INTERNAL_ERROR"
)

// Desync wraps a ProtoError to mark a framing failure so severe the
// byte stream can no longer be trusted — the command line ran past
// MaxLineSize and the decoder abandons it there, so there is no
// reliable place to resume reading.
// The connection driver replies with Err once and then closes rather
// than continuing to serve the connection.
type Desync struct {
	Err ProtoError
}

func (d Desync) Error() string { return string(d.Err) }
