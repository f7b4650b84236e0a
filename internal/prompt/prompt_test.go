package prompt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLine(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("  ada@example.com \n\nlast"), &out)

	got, err := p.Line("Email")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got)
	assert.Equal(t, "Email: ", out.String())

	_, err = p.Line("First name")
	assert.ErrorIs(t, err, ErrEmpty)

	got, err = p.Line("Last name")
	require.NoError(t, err, "a final line without newline is accepted")
	assert.Equal(t, "last", got)

	_, err = p.Line("Phone")
	assert.ErrorIs(t, err, io.EOF)
}

func TestOptional(t *testing.T) {
	p := New(strings.NewReader("\n+1 555 0100\n"), io.Discard)

	_, ok, err := p.Optional("Phone")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := p.Optional("Phone")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "+1 555 0100", got)
}

func TestSecretFromPipe(t *testing.T) {
	p := New(strings.NewReader(" spaced secret \n"), io.Discard)
	buf, err := p.Secret("Password")
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, " spaced secret ", buf.String(), "secrets are not trimmed")
}

func TestSecretFromTerminal(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader(""), &out)
	p.tty = true
	p.readPassword = func(int) ([]byte, error) { return []byte("hunter22"), nil }

	buf, err := p.Secret("Password")
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, "hunter22", buf.String())
	assert.Equal(t, "Password: \n", out.String())
}

func TestNewSecret(t *testing.T) {
	p := New(strings.NewReader("one\none\none\ntwo\n"), io.Discard)

	buf, err := p.NewSecret("Password")
	require.NoError(t, err)
	assert.Equal(t, "one", buf.String())
	buf.Destroy()

	_, err = p.NewSecret("Password")
	assert.EqualError(t, err, "entries do not match")
}

func TestSecretEmpty(t *testing.T) {
	p := New(strings.NewReader("\n"), io.Discard)
	_, err := p.Secret("Password")
	assert.ErrorIs(t, err, ErrEmpty)
}
