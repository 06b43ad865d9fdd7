package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSharesValid(t *testing.T) {
	shares, err := parseShares([]string{"/host/code:codetag", "/host/data:datatag"})
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, "/host/code", shares[0].HostPath)
	assert.Equal(t, "codetag", shares[0].Tag)
}

func TestParseSharesRejectsMissingColon(t *testing.T) {
	_, err := parseShares([]string{"no-colon-here"})
	require.Error(t, err)
}

func TestParseSharesRejectsEmptyTag(t *testing.T) {
	_, err := parseShares([]string{"/host/code:"})
	require.Error(t, err)
}

func TestParsePositiveInt(t *testing.T) {
	n, err := parsePositiveInt("8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, n)

	_, err = parsePositiveInt("vm-abc123")
	require.Error(t, err)
}
