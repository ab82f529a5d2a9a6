package stats

import "github.com/stretchr/testify/mock"

var _ StatsProvider = (*MockStatsUpdater)(nil)

// MockStatsUpdater records metric calls for assertions in other packages'
// tests.
type MockStatsUpdater struct {
	mock.Mock
}

// ExpectRegistered expects each named metric to be registered exactly once.
func (m *MockStatsUpdater) ExpectRegistered(names ...string) *MockStatsUpdater {
	for _, name := range names {
		m.On("RegisterMetric", name).Return().Once()
	}
	return m
}

func (m *MockStatsUpdater) Incr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) Decr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }
func (m *MockStatsUpdater) Run()                       { m.Called() }
