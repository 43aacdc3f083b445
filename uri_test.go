package coap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario6URIDecompose(t *testing.T) {
	u, err := ParseURI("coap://[::1]:5683/a/b?k=v&flag")
	require.NoError(t, err)
	assert.Equal(t, SchemeCoAP, u.Scheme)
	assert.Equal(t, "::1", u.Host)
	assert.Equal(t, uint16(5683), u.Port)
	assert.Equal(t, "a/b", u.Path)
	assert.Equal(t, "k=v&flag", u.Query)

	opts := u.DecomposeToOptions()
	require.Len(t, opts, 4)
	assert.Equal(t, Option{Number: OptURIPath, Value: "a"}, opts[0])
	assert.Equal(t, Option{Number: OptURIPath, Value: "b"}, opts[1])
	assert.Equal(t, Option{Number: OptURIQuery, Value: "k=v"}, opts[2])
	assert.Equal(t, Option{Number: OptURIQuery, Value: "flag"}, opts[3])
}

func TestParseURIRejectsFragment(t *testing.T) {
	_, err := ParseURI("coap://host/path#frag")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidData, KindOf(err))
}

func TestParseURIDefaultPortOmittedOnRoundTrip(t *testing.T) {
	u, err := ParseURI("coap://example.org/sensors")
	require.NoError(t, err)
	assert.Equal(t, uint16(5683), u.Port)
	assert.Equal(t, "coap://example.org/sensors", u.String())
}

func TestParseURIUnsupportedScheme(t *testing.T) {
	_, err := ParseURI("http://example.org/")
	require.Error(t, err)
}
