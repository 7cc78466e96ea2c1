package isolation

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return NewBuilder(config.SandboxConfig{
		TempDir:  "/tmp",
		StateDir: "/home/agent/.claude",
		VCSPaths: []string{"/dev/null", "/home/agent/.config/gh"},
	})
}

func TestBuildUnionsWritablePaths(t *testing.T) {
	p, err := testBuilder().Build(ProfileRequest{TaskID: "t1", WritablePaths: []string{"/work/repo/", "/work/repo"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/agent/.claude", "/tmp", "/work/repo"}, p.WritablePaths)
	assert.True(t, p.ReadAll)
	assert.True(t, p.ExecAll)
	assert.False(t, p.AllowsWrite("/etc/hosts"))
}

func TestBuildAddsVCSPaths(t *testing.T) {
	p, err := testBuilder().Build(ProfileRequest{TaskID: "t1", WritablePaths: []string{"/work"}, NeedsVCS: true})
	require.NoError(t, err)
	assert.Contains(t, p.WritablePaths, "/dev/null")
	assert.Contains(t, p.WritablePaths, "/home/agent/.config/gh")
}

func TestBuildRejectsBadPaths(t *testing.T) {
	b := testBuilder()
	_, err := b.Build(ProfileRequest{TaskID: "t1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = b.Build(ProfileRequest{TaskID: "t1", WritablePaths: []string{"relative"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = b.Build(ProfileRequest{TaskID: "t1", WritablePaths: []string{"/"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRenderSeatbelt(t *testing.T) {
	out := RenderSeatbelt(&domain.IsolationProfile{WritablePaths: []string{"/tmp", `/work/"odd"`}})
	assert.True(t, strings.HasPrefix(out, "(version 1)\n(allow default)\n(deny file-write*)\n"))
	assert.Contains(t, out, `(subpath "/tmp")`)
	assert.Contains(t, out, `(subpath "/work/\"odd\"")`)
}

func TestRenderBubblewrapArgs(t *testing.T) {
	raw := RenderBubblewrapArgs(&domain.IsolationProfile{WritablePaths: []string{"/dev/null", "/work"}})
	args := strings.Split(strings.TrimSuffix(string(raw), "\x00"), "\x00")
	assert.Equal(t, []string{
		"--ro-bind", "/", "/",
		"--dev", "/dev",
		"--proc", "/proc",
		"--dev-bind-try", "/dev/null", "/dev/null",
		"--bind-try", "/work", "/work",
		"--die-with-parent",
	}, args)
}

func TestLeaseReleaseRemovesArtifact(t *testing.T) {
	l, err := newLease("profile.sb", []byte("(version 1)"))
	require.NoError(t, err)

	info, err := os.Stat(l.dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	assert.FileExists(t, l.ArtifactPath())

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	assert.NoFileExists(t, l.ArtifactPath())
	assert.NoDirExists(t, l.dir)
}

func TestWrapCommandKeepsOriginalArgs(t *testing.T) {
	sh, err := exec.LookPath("sh")
	require.NoError(t, err)
	cmd := exec.Command("echo", "a", "b")
	require.NoError(t, wrapCommand(cmd, "sh", "-c", `exec "$0" "$@"`))
	assert.Equal(t, sh, cmd.Path)
	assert.Equal(t, "sh", cmd.Args[0])
	assert.Equal(t, []string{"-c", `exec "$0" "$@"`}, cmd.Args[1:3])
	assert.Equal(t, []string{"a", "b"}, cmd.Args[4:])
}

func TestUnavailableProviderFailsClosed(t *testing.T) {
	p := NewUnavailableProvider("none", "disabled")
	assert.ErrorIs(t, p.Available(), domain.ErrIsolationUnavailable)
	lease, err := p.Apply(&domain.IsolationProfile{})
	assert.Nil(t, lease)
	var unavailable *domain.IsolationUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "disabled", unavailable.Reason)
}

func TestSeatbeltUnavailableOffDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("seatbelt is native here")
	}
	_, err := NewSeatbeltProvider().Apply(&domain.IsolationProfile{WritablePaths: []string{"/tmp"}})
	assert.ErrorIs(t, err, domain.ErrIsolationUnavailable)
}

func TestSelectHonoursDisabled(t *testing.T) {
	p := Select(config.SandboxConfig{Enabled: false, Provider: "auto"}, logger.NewNop())
	assert.Equal(t, "none", p.Name())
	assert.Error(t, p.Available())
}
