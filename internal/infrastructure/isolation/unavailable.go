package isolation

import (
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
)

// UnavailableProvider is selected when no sandbox primitive can be used.
type UnavailableProvider struct {
	name   string
	reason string
}

func NewUnavailableProvider(name, reason string) *UnavailableProvider {
	return &UnavailableProvider{name: name, reason: reason}
}

func (p *UnavailableProvider) Name() string { return p.name }

func (p *UnavailableProvider) Available() error {
	return &domain.IsolationUnavailableError{Provider: p.name, Reason: p.reason}
}

func (p *UnavailableProvider) Apply(*domain.IsolationProfile) (ports.IsolationLease, error) {
	return nil, p.Available()
}
