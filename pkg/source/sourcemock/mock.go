package sourcemock

import (
	"context"

	"github.com/raterudder/evconf/pkg/source"
	"github.com/raterudder/evconf/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockSource struct {
	mock.Mock
}

var _ source.Source = (*MockSource)(nil)

func (m *MockSource) Load(ctx context.Context) (*types.PartialEVConfig, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		c, _ := args.Get(0).(*types.PartialEVConfig)
		return c, args.Error(1)
	}
	return nil, nil
}

func (m *MockSource) Commit(ctx context.Context, c types.EVConfig) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}
