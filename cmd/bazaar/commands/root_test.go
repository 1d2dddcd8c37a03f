package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/version"
)

// writeConfigVals writes a toml file with the given top level values.
func writeConfigVals(t *testing.T, dir string, vals map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0700))
	data := ""
	for k, v := range vals {
		data += fmt.Sprintf("%s = \"%s\"\n", k, v)
	}
	cfile := filepath.Join(dir, "config", "config.toml")
	require.NoError(t, os.WriteFile(cfile, []byte(data), 0600))
}

// clearConfig resets viper and returns a default config.
func clearConfig(t *testing.T) *config.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return config.DefaultConfig()
}

// testRootCmd returns a runnable root command, so that its pre-run hook
// parses the configuration.
func testRootCmd(conf *config.Config) *cobra.Command {
	cmd := RootCommand(conf, log.NewNopLogger())
	cmd.RunE = func(cmd *cobra.Command, args []string) error { return nil }
	return cmd
}

func runRoot(ctx context.Context, cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootHome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("flag", func(t *testing.T) {
		root := t.TempDir()
		conf := clearConfig(t)

		_, err := runRoot(ctx, testRootCmd(conf), "--home", root)
		require.NoError(t, err)
		assert.Equal(t, root, conf.RootDir)
		assert.FileExists(t, filepath.Join(root, "config", "config.toml"))
		assert.DirExists(t, filepath.Join(root, "data"))
	})

	t.Run("env", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "something-else")
		t.Setenv("BAZAAR_HOME", root)
		conf := clearConfig(t)

		_, err := runRoot(ctx, testRootCmd(conf))
		require.NoError(t, err)
		assert.Equal(t, root, conf.RootDir)
		assert.FileExists(t, filepath.Join(root, "config", "config.toml"))
	})
}

func TestRootFlagsEnv(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaultLogLvl := config.DefaultConfig().LogLevel

	cases := []struct {
		args     []string
		env      map[string]string
		logLevel string
	}{
		{nil, nil, defaultLogLvl},
		{[]string{"--log_level", "debug"}, nil, "debug"},
		{nil, map[string]string{"BAZAAR_LOG_LEVEL": "error"}, "error"},
		// the flag wins over the environment
		{[]string{"--log_level", "debug"}, map[string]string{"BAZAAR_LOG_LEVEL": "error"}, "debug"},
	}

	for i, tc := range cases {
		tc := tc
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			conf := clearConfig(t)

			args := append([]string{"--home", t.TempDir()}, tc.args...)
			_, err := runRoot(ctx, testRootCmd(conf), args...)
			require.NoError(t, err)
			assert.Equal(t, tc.logLevel, conf.LogLevel)
		})
	}
}

func TestRootConfigFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := []struct {
		args     []string
		env      map[string]string
		logLevel string
	}{
		{nil, nil, "error"},
		{[]string{"--log_level", "debug"}, nil, "debug"},
		{nil, map[string]string{"BAZAAR_LOG_LEVEL": "debug"}, "debug"},
	}

	for i, tc := range cases {
		tc := tc
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			root := t.TempDir()
			writeConfigVals(t, root, map[string]string{"log_level": "error"})
			conf := clearConfig(t)

			args := append([]string{"--home", root}, tc.args...)
			_, err := runRoot(ctx, testRootCmd(conf), args...)
			require.NoError(t, err)
			assert.Equal(t, tc.logLevel, conf.LogLevel)
		})
	}
}

func TestRootInvalidConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := clearConfig(t)
	_, err := runRoot(ctx, testRootCmd(conf), "--home", t.TempDir(), "--log_format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestInitCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	conf := clearConfig(t)
	logger := log.NewNopLogger()
	cmd := RootCommand(conf, logger)
	cmd.AddCommand(MakeInitCommand(conf, logger))

	_, err := runRoot(ctx, cmd, "init", "--home", root,
		"--bus.broker", "localhost:9000", "--participant.name", "alice")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "config", "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `broker = "localhost:9000"`)
	assert.Contains(t, string(data), `name = "alice"`)
}

func TestVersionCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := clearConfig(t)
	cmd := RootCommand(conf, log.NewNopLogger())
	cmd.AddCommand(VersionCmd)

	out, err := runRoot(ctx, cmd, "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	out, err = runRoot(ctx, cmd, "version", "--verbose")
	require.NoError(t, err)
	t.Cleanup(func() { verbose = false })

	var values struct {
		Bazaar          string `json:"bazaar"`
		MessageProtocol uint64 `json:"message_protocol"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	assert.Equal(t, version.Version, values.Bazaar)
	assert.Equal(t, version.MessageProtocol.Uint64(), values.MessageProtocol)
}
