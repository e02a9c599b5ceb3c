package reorder

import "context"

// StaticProvider serves fixed reorder points, used when no reorder service is configured.
type StaticProvider struct {
	points   map[string]int
	fallback int
}

func NewStaticProvider(fallback int, points map[string]int) *StaticProvider {
	return &StaticProvider{points: points, fallback: fallback}
}

func (p *StaticProvider) GetReorderPoint(_ context.Context, _, sku string) (int, error) {
	if v, ok := p.points[sku]; ok {
		return v, nil
	}
	return p.fallback, nil
}
