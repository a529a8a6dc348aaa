package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	doc := `
environments:
  testflight:
    latest:
    - file.yml
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, DefaultScope, cfg.Scope)

	env, ok := cfg.Environment("testflight")
	require.True(t, ok)
	require.Equal(t, []string{"file.yml"}, env.HeadFiles)
	require.False(t, env.HasUpstream())
}

func TestParsePropagationChain(t *testing.T) {
	doc := `
deployment: myapp
environments:
  staging:
    latest: ["*.yml"]
  prod:
    passed: staging
    propagated: ["*.yml"]
    ignore_queue: true
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "myapp", cfg.Scope)

	prod, ok := cfg.Environment("prod")
	require.True(t, ok)
	require.True(t, prod.HasUpstream())
	require.Equal(t, "staging", prod.PropagatedFrom)
	require.True(t, prod.IgnoreQueue)
}

func TestParseRejectsUnknownUpstream(t *testing.T) {
	doc := `
environments:
  prod:
    passed: staging
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	var unf *UpstreamNotFoundError
	require.ErrorAs(t, err, &unf)
}

func TestParseRejectsCycle(t *testing.T) {
	doc := `
environments:
  a:
    passed: b
  b:
    passed: a
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	var cyc *CyclicPassedError
	require.ErrorAs(t, err, &cyc)
}

func TestMatchAnyGlobSemantics(t *testing.T) {
	require.True(t, MatchAny([]string{"*.yml"}, "file.yml"))
	require.False(t, MatchAny([]string{"*.yml"}, "sub/file.yml")) // * never crosses /
	require.True(t, MatchAny([]string{"sub/*.yml"}, "sub/file.yml"))
	require.True(t, MatchAny([]string{".*"}, ".hidden"))
}

func TestGatesDefaultsToHead(t *testing.T) {
	gates := Gates{"prod": "HEAD", "staging": "deadbeef"}
	require.Equal(t, "", gates.Gate("prod"))
	require.Equal(t, "", gates.Gate("unknown"))
	require.Equal(t, "deadbeef", gates.Gate("staging"))
}
