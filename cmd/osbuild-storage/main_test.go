package main_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	main "github.com/osbuild/osbuild-storage/cmd/osbuild-storage"
	"github.com/osbuild/osbuild-storage/internal/disk"
)

func TestCatchesPanic(t *testing.T) {
	restore := main.MockRun(func() {
		// simulate a crash in the main code
		var foo *int
		println(*foo)
	})
	defer restore()

	var exitCalls []int
	logrus.StandardLogger().ExitFunc = func(exitCode int) {
		exitCalls = append(exitCalls, exitCode)
	}
	defer func() { logrus.StandardLogger().ExitFunc = nil }()
	logrus.SetOutput(io.Discard)
	_, hook := logrusTest.NewNullLogger()
	logrus.AddHook(hook)

	main.Main()
	assert.Equal(t, logrus.FatalLevel, hook.LastEntry().Level)
	msg := hook.LastEntry().Message
	assert.Contains(t, msg, "osbuild-storage crashed: runtime error: invalid memory address or nil pointer dereference")
	assert.Contains(t, msg, "runtime/debug.Stack()")
	assert.Equal(t, []int{1}, exitCalls)
}

const machineConfig = `{
    "blockdev": {
        "/dev/vda": {
            "DEVTYPE": "disk",
            "ID_SERIAL": "0123456789",
            "attrs": {"size": "10737418240", "ro": "0"}
        },
        "/dev/vdb": {
            "DEVTYPE": "disk",
            "attrs": {"size": "5368709120", "ro": "0"}
        }
    }
}
`

// dryRun writes a configuration probing the machine config above.
func dryRun(t *testing.T, extra string) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	machine := filepath.Join(dir, "machine.json")
	require.NoError(t, os.WriteFile(machine, []byte(machineConfig), 0600))
	configPath = filepath.Join(dir, "osbuild-storage.toml")
	config := "log_dir = \"" + filepath.Join(dir, "log") + "\"\n" +
		"bootloader = \"bios\"\n" +
		"machine_config = \"" + machine + "\"\n" + extra
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0600))
	return dir, configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logrus.SetOutput(io.Discard)
	cmd := main.NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProbeDryRun(t *testing.T) {
	dir, config := dryRun(t, "")
	out, err := execute(t, "probe", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "DEVICE")
	assert.Regexp(t, `/dev/vda\s+10 GiB\s+-\s+0\s+10 GiB`, out)
	assert.Regexp(t, `/dev/vdb\s+5\.0 GiB`, out)

	_, err = os.Stat(filepath.Join(dir, "log", "probe-data.json"))
	assert.NoError(t, err)
}

func TestProbeExcludeDevices(t *testing.T) {
	_, config := dryRun(t, "exclude_devices = [\"/dev/vdb\"]\n")
	out, err := execute(t, "probe", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/vda")
	assert.NotContains(t, out, "/dev/vdb")
}

func TestProbeMissingMachineConfig(t *testing.T) {
	dir, config := dryRun(t, "")
	require.NoError(t, os.Remove(filepath.Join(dir, "machine.json")))
	_, err := execute(t, "probe", "--config", config)
	assert.ErrorContains(t, err, "probing failed")
}

func TestConfigureDryRun(t *testing.T) {
	dir, config := dryRun(t, "")
	answers := filepath.Join(dir, "answers.yaml")
	require.NoError(t, os.WriteFile(answers, []byte("guided: true\nguided-index: 1\n"), 0600))
	output := filepath.Join(dir, "storage.yaml")

	_, err := execute(t, "configure", "--config", config, "--answers", answers, "--output", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var doc struct {
		Storage struct {
			Version int           `yaml:"version"`
			Config  []disk.Action `yaml:"config"`
		} `yaml:"storage"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Storage.Version)
	require.NotEmpty(t, doc.Storage.Config)

	first := doc.Storage.Config[0]
	assert.Equal(t, "disk", first.Type)
	assert.Equal(t, "/dev/vdb", first.Path)
	assert.True(t, first.GrubDevice)

	last := doc.Storage.Config[len(doc.Storage.Config)-1]
	assert.Equal(t, "mount", last.Type)
	assert.Equal(t, "/", last.Path)
}

func TestConfigureIncompleteAnswers(t *testing.T) {
	dir, config := dryRun(t, "")
	answers := filepath.Join(dir, "answers.yaml")
	require.NoError(t, os.WriteFile(answers, []byte("manual:\n  - action: done\n"), 0600))

	_, err := execute(t, "configure", "--config", config, "--answers", answers)
	assert.ErrorContains(t, err, "answers did not provide complete fs config")
}

func TestConfigureRequiresAnswers(t *testing.T) {
	_, config := dryRun(t, "")
	_, err := execute(t, "configure", "--config", config)
	assert.Error(t, err)
}
