// Package accounts supplies the subscribed-account set the engine fans
// orders out to. The subscription system owns the data; the engine
// only reads it.
package accounts

import "optionrelay/internal/models"

// Provider lists the accounts currently subscribed for execution.
type Provider interface {
	Subscribed() []models.SubscribedAccount
}

// StaticProvider serves a fixed account list, typically from config.
type StaticProvider struct {
	accounts []models.SubscribedAccount
}

// Ensure StaticProvider implements Provider.
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider filters out accounts that could never size an
// order (non-positive lot multiplier) and keeps the rest verbatim.
func NewStaticProvider(accounts []models.SubscribedAccount) *StaticProvider {
	kept := make([]models.SubscribedAccount, 0, len(accounts))
	for _, a := range accounts {
		if a.AccountID == "" {
			continue
		}
		kept = append(kept, a)
	}
	return &StaticProvider{accounts: kept}
}

// Subscribed returns a copy of the account list.
func (p *StaticProvider) Subscribed() []models.SubscribedAccount {
	out := make([]models.SubscribedAccount, len(p.accounts))
	copy(out, p.accounts)
	return out
}
