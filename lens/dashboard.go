package lens

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Dashboard holds one presenter per configured build type.
type Dashboard struct {
	buildTypes []BuildType
	presenters map[string]*Presenter
}

// NewDashboard creates presenters for every build type, all sharing the same fetcher.
func NewDashboard(buildTypes []BuildType, fetcher ReportFetcher, order ReportOrder, limit int) *Dashboard {
	d := &Dashboard{
		buildTypes: buildTypes,
		presenters: make(map[string]*Presenter, len(buildTypes)),
	}
	for _, bt := range buildTypes {
		d.presenters[bt.ID] = NewPresenter(bt.ID, fetcher, order, limit)
	}
	return d
}

// BuildTypes returns the presented build types in configured order.
func (d *Dashboard) BuildTypes() []BuildType {
	return d.buildTypes
}

// Presenter returns the presenter of a build type.
func (d *Dashboard) Presenter(buildTypeID string) (*Presenter, error) {
	if p, ok := d.presenters[buildTypeID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBuildType, buildTypeID)
}

// RefreshAll refreshes every presenter concurrently. A failed build type does not stop the others, all failures are
// returned joined.
func (d *Dashboard) RefreshAll(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	errGroup := ErrGroupLimitCPU()
	for _, bt := range d.buildTypes {
		p := d.presenters[bt.ID]
		errGroup.Go(func() error {
			if err := p.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", bt.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = errGroup.Wait()
	return errors.Join(errs...)
}
