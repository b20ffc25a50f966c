package provider

import "mcphub/internal/store"

// DefaultRegistry builds the full static catalog. Only the memory
// provider needs runtime dependencies.
func DefaultRegistry(s *store.Store) (*Registry, error) {
	return NewRegistry(
		NewTeamwork(),
		NewSlack(),
		NewTelegram(),
		NewMiro(),
		NewFigma(),
		NewBinance(),
		NewMemory(s),
	)
}
