package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johncui/socrate/pkg/config"
	"github.com/johncui/socrate/pkg/gateway"
)

type nopUpstream struct{}

func (nopUpstream) GenerateContent(context.Context, string, string) ([]byte, error) {
	return []byte(`{}`), nil
}

func TestBuildGateway(t *testing.T) {
	gw, err := buildGateway(config.GatewayConfig{URL: "http://localhost:3000/api/gemini"}, nopUpstream{})
	require.NoError(t, err)
	assert.IsType(t, &gateway.Client{}, gw)

	gw, err = buildGateway(config.GatewayConfig{}, nopUpstream{})
	require.NoError(t, err)
	assert.IsType(t, &gateway.Direct{}, gw)

	_, err = buildGateway(config.GatewayConfig{}, nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newLogger(config.LogConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, closeFn())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	path := filepath.Join(t.TempDir(), "socrate.log")
	logger, closeFn, err = newLogger(config.LogConfig{Level: "info", File: path}, &buf)
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, closeFn())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	_, _, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["chat"])
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
