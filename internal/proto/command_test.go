package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePut(t *testing.T) {
	cmd, err := Parse([]Token{Name("put"), Integer(1), Integer(0), Integer(60), Integer(5), BytesTok([]byte("hello"))})
	assert.NoError(t, err)
	assert.Equal(t, Command{Kind: CmdPut, Pri: 1, Delay: 0, TTR: 60, Body: []byte("hello")}, cmd)
}

func TestParseReserveWithTimeout(t *testing.T) {
	cmd, err := Parse([]Token{Name("reserve-with-timeout"), Integer(5)})
	assert.NoError(t, err)
	assert.Equal(t, Command{Kind: CmdReserveWithTimeout, Seconds: 5}, cmd)
}

func TestParsePauseTube(t *testing.T) {
	cmd, err := Parse([]Token{Name("pause-tube"), Name("foo"), Integer(10)})
	assert.NoError(t, err)
	assert.Equal(t, Command{Kind: CmdPauseTube, Tube: "foo", Delay: 10}, cmd)
}

func TestParseUnknownVerb(t *testing.T) {
	_, err := Parse([]Token{Name("frobnicate")})
	assert.Equal(t, ErrBadFormat, err)
}

func TestParseLeftoverTokens(t *testing.T) {
	_, err := Parse([]Token{Name("quit"), Name("extra")})
	assert.Equal(t, ErrBadFormat, err)
}

func TestParseWrongTokenType(t *testing.T) {
	_, err := Parse([]Token{Name("delete"), Name("not-a-number")})
	assert.Equal(t, ErrBadFormat, err)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	assert.Equal(t, ErrBadFormat, err)
}

func TestParseAllNoArgVerbs(t *testing.T) {
	for verb, kind := range map[string]Kind{
		"reserve":            CmdReserve,
		"peek-ready":         CmdPeekReady,
		"peek-delayed":       CmdPeekDelayed,
		"peek-buried":        CmdPeekBuried,
		"stats":              CmdStats,
		"list-tubes":         CmdListTubes,
		"list-tube-used":     CmdListTubeUsed,
		"list-tubes-watched": CmdListTubesWatched,
		"quit":               CmdQuit,
	} {
		cmd, err := Parse([]Token{Name(verb)})
		assert.NoError(t, err, verb)
		assert.Equal(t, kind, cmd.Kind, verb)
	}
}
