package factory

import (
	"net/http"
	"time"

	"github.com/SvelteTick/Impostr/internal/api"
	"github.com/SvelteTick/Impostr/internal/dependencies/mocks"
	"github.com/SvelteTick/Impostr/internal/storage/memory"
	"github.com/SvelteTick/Impostr/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock   *mocks.MockClock
	MockRandom  *mocks.MockRandom
	MockChannel *mocks.MockChannel
	MockDialer  *mocks.MockDialer
	Memory      *memory.Storage
}

// NewTestApp creates an App configured for testing with mocked
// dependencies. The request layer talks to serverURL, usually an
// httptest server.
func NewTestApp(serverURL string) *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	mockChannel := mocks.NewMockChannel()
	mockDialer := mocks.NewMockDialer(mockChannel)
	apiClient := api.NewClient(serverURL, &http.Client{Timeout: 5 * time.Second})

	app := newWithDependencies(store, mockClock, mockRandom, apiClient, mockDialer, Config{}, testutil.NopLogger())

	return &TestApp{
		App:         app,
		MockClock:   mockClock,
		MockRandom:  mockRandom,
		MockChannel: mockChannel,
		MockDialer:  mockDialer,
		Memory:      store,
	}
}
