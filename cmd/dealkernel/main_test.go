package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"dealkernel", "version"}, &out, &errOut)
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out.String(), "dealkernel "))
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"dealkernel", "help"}, &out, &errOut)
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "verify <dealId>")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"dealkernel", "frobnicate"}, &out, &errOut)
	require.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestVerify_MissingDeal(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	var out, errOut bytes.Buffer
	code := Run([]string{"dealkernel", "verify", "deal-nope"}, &out, &errOut)
	require.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "deal-nope")
}

func TestVerify_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"dealkernel", "verify"}, &out, &errOut)
	require.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Usage")
}
