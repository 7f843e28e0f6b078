package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-live/pkg/live/audio"
	"github.com/vango-go/vai-live/pkg/live/config"
	"github.com/vango-go/vai-live/pkg/live/location"
	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/session"
)

type noMic struct{}

func (noMic) Open(context.Context, int) (audio.MicStream, error) {
	return nil, errors.New("no capture device")
}

type noSpeaker struct{}

func (noSpeaker) Open() (audio.Sink, error) { return nil, errors.New("no playback device") }

func testDeps(t *testing.T) liveDeps {
	t.Helper()
	return liveDeps{
		loadConfig: func() (config.Config, error) {
			cfg := config.FromEnv()
			cfg.GeminiAPIKey = "test-key"
			cfg.Location = config.LocationNone
			return cfg, nil
		},
		newMicrophone: func() (audio.Microphone, io.Closer, error) { return noMic{}, nil, nil },
		newSpeaker:    func(int) (audio.Speaker, error) { return noSpeaker{}, nil },
		newDialer: func(context.Context, config.Config, *slog.Logger) (session.Dialer, error) {
			return session.DialerFunc(func(context.Context, protocol.SetupConfig) (session.Conn, error) {
				return nil, errors.New("offline")
			}), nil
		},
		isTerminal:   func() bool { return false },
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	}
}

func envFileArg(t *testing.T) string {
	return "--env-file=" + filepath.Join(t.TempDir(), "missing.env")
}

func TestRunMainConsoleSession(t *testing.T) {
	t.Setenv("VAI_LIVE_CONFIG", "")
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("start\nstatus\nquit\n")

	code := runMain(context.Background(), []string{envFileArg(t), "--log-level=error"}, stdin, &stdout, &stderr, testDeps(t))
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Neural link standby.")
	assert.Contains(t, stdout.String(), "persona: JARVIS")
}

func TestRunMainFlagsOverrideConfig(t *testing.T) {
	t.Setenv("VAI_LIVE_CONFIG", "")
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("status\nquit\n")

	code := runMain(context.Background(), []string{envFileArg(t), "--persona=ultron", "--muted", "--log-level=error"}, stdin, &stdout, &stderr, testDeps(t))
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "persona: ULTRON")
	assert.Contains(t, stdout.String(), "muted: yes")
}

func TestRunMainRejectsInvalidConfig(t *testing.T) {
	t.Setenv("VAI_LIVE_CONFIG", "")
	var stderr bytes.Buffer
	code := runMain(context.Background(), []string{envFileArg(t), "--backend=carrier-pigeon"}, strings.NewReader(""), &bytes.Buffer{}, &stderr, testDeps(t))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "vai-live: VAI_LIVE_BACKEND must be one of gemini|relay")
}

func TestRunMainYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: friday\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{envFileArg(t), "--config=" + path, "--log-level=error"}, strings.NewReader("status\nquit\n"), &stdout, &stderr, testDeps(t))
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "persona: FRIDAY")
}

func TestRunMainRejectsPositionalArgs(t *testing.T) {
	var stderr bytes.Buffer
	code := runMain(context.Background(), []string{"extra"}, strings.NewReader(""), &bytes.Buffer{}, &stderr, testDeps(t))
	assert.Equal(t, 1, code)
}

func TestLocationProviderSelection(t *testing.T) {
	assert.IsType(t, location.Static{}, locationProvider(config.Config{Location: config.LocationStatic}))
	assert.IsType(t, location.None{}, locationProvider(config.Config{Location: config.LocationNone}))
	assert.IsType(t, &location.IPProvider{}, locationProvider(config.Config{Location: config.LocationIP}))
}

func TestNewDialerRelay(t *testing.T) {
	d, err := newDialer(context.Background(), config.Config{Backend: config.BackendRelay, RelayURL: "ws://127.0.0.1:1/live"}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestNewDialerGeminiNeedsKey(t *testing.T) {
	_, err := newDialer(context.Background(), config.Config{Backend: config.BackendGemini}, nil)
	require.Error(t, err)
}
