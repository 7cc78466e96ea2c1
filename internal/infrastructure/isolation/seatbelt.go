package isolation

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
)

const seatbeltLauncher = "sandbox-exec"

// SeatbeltProvider confines the agent with macOS sandbox-exec.
type SeatbeltProvider struct{}

func NewSeatbeltProvider() *SeatbeltProvider { return &SeatbeltProvider{} }

func (p *SeatbeltProvider) Name() string { return "seatbelt" }

func (p *SeatbeltProvider) Available() error {
	if runtime.GOOS != "darwin" {
		return &domain.IsolationUnavailableError{Provider: p.Name(), Reason: "requires darwin, running on " + runtime.GOOS}
	}
	if _, err := exec.LookPath(seatbeltLauncher); err != nil {
		return &domain.IsolationUnavailableError{Provider: p.Name(), Reason: seatbeltLauncher + " not found"}
	}
	return nil
}

func (p *SeatbeltProvider) Apply(profile *domain.IsolationProfile) (ports.IsolationLease, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}
	l, err := newLease("profile.sb", []byte(RenderSeatbelt(profile)))
	if err != nil {
		return nil, err
	}
	l.wrap = func(cmd *exec.Cmd) error {
		return wrapCommand(cmd, seatbeltLauncher, "-f", l.artifact)
	}
	return l, nil
}

// RenderSeatbelt produces the sandbox profile source. Everything is allowed
// except file writes outside the profile's writable paths.
func RenderSeatbelt(profile *domain.IsolationProfile) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(allow default)\n")
	b.WriteString("(deny file-write*)\n")
	b.WriteString("(allow file-write*\n")
	for _, path := range profile.WritablePaths {
		b.WriteString("    (subpath \"")
		b.WriteString(quoteSeatbelt(path))
		b.WriteString("\")\n")
	}
	b.WriteString(")\n")
	return b.String()
}

func quoteSeatbelt(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
