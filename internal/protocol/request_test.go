package protocol

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keynanny/keynannyd/internal/errors"
)

func TestReadLine(t *testing.T) {
	cases := map[string]string{
		"get x\n":   "get x",
		"get x\r\n": "get x",
		"get x\r":   "get x",
	}
	for input, want := range cases {
		r := bufio.NewReader(strings.NewReader(input))
		line, err := ReadLine(r)
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
}

func TestParse_Get(t *testing.T) {
	req, err := Parse("get greeting")
	require.NoError(t, err)
	require.Equal(t, VerbGet, req.Verb)
	require.Equal(t, "greeting", req.Key)
}

func TestParse_Set(t *testing.T) {
	req, err := Parse("set greeting")
	require.NoError(t, err)
	require.Equal(t, VerbSet, req.Verb)
	require.Equal(t, "greeting", req.Key)
}

func TestParse_UnknownVerbIsNotAClientError(t *testing.T) {
	req, err := Parse("delete foo")
	require.NoError(t, err)
	require.Equal(t, VerbUnknown, req.Verb)
}

func TestParse_InvalidSyntax(t *testing.T) {
	cases := []string{
		"noarg",
		"get bad-key",
		"get ",
		"get  x",
		" get x",
		"",
	}
	for _, line := range cases {
		_, err := Parse(line)
		require.Error(t, err, "line %q should be invalid", line)
		require.True(t, errors.Is(err, errors.ErrClient))
	}
}
