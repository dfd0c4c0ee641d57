package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"auditlog/internal/audit"
	"auditlog/internal/audit/mocks"
	"auditlog/pkg/requestcontext"
	"auditlog/pkg/testutil"
)

func TestDetectorWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	testutil.Given(t, "failures counted from the window start", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		counter := mocks.NewMockFailureCounter(ctrl)
		detector, err := audit.NewDetector(counter)
		require.NoError(t, err)

		since := now.Add(-audit.SuspicionWindow)

		testutil.When(t, "the ip has three prior failures", func(t *testing.T) {
			counter.EXPECT().CountByIP(gomock.Any(), audit.EventLoginFailure, "10.0.0.1", since).Return(3, nil)
			counter.EXPECT().CountByEmail(gomock.Any(), audit.EventLoginFailure, "a@example.com", since).Return(0, nil)

			suspicious, err := detector.Classify(ctx, audit.EventLoginFailure, "10.0.0.1", "a@example.com")

			testutil.Then(t, "the candidate is not suspicious", func(t *testing.T) {
				require.NoError(t, err)
				assert.False(t, suspicious)
			})
		})

		testutil.When(t, "the ip has four prior failures", func(t *testing.T) {
			counter.EXPECT().CountByIP(gomock.Any(), audit.EventLoginFailure, "10.0.0.1", since).Return(4, nil)

			suspicious, err := detector.Classify(ctx, audit.EventLoginFailure, "10.0.0.1", "a@example.com")

			testutil.Then(t, "it is suspicious without consulting the email count", func(t *testing.T) {
				require.NoError(t, err)
				assert.True(t, suspicious)
			})
		})

		testutil.When(t, "the email has two prior failures", func(t *testing.T) {
			counter.EXPECT().CountByIP(gomock.Any(), audit.EventLoginFailure, "10.0.0.9", since).Return(0, nil)
			counter.EXPECT().CountByEmail(gomock.Any(), audit.EventLoginFailure, "a@example.com", since).Return(2, nil)

			suspicious, err := detector.Classify(ctx, audit.EventLoginFailure, "10.0.0.9", "a@example.com")

			testutil.Then(t, "it is suspicious", func(t *testing.T) {
				require.NoError(t, err)
				assert.True(t, suspicious)
			})
		})

		testutil.When(t, "no email is known", func(t *testing.T) {
			counter.EXPECT().CountByIP(gomock.Any(), audit.EventLoginFailure, "10.0.0.1", since).Return(3, nil)

			suspicious, err := detector.Classify(ctx, audit.EventLoginFailure, "10.0.0.1", "")

			testutil.Then(t, "only the ip count is consulted", func(t *testing.T) {
				require.NoError(t, err)
				assert.False(t, suspicious)
			})
		})
	})
}

func TestDetectorIgnoresOtherKinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	counter := mocks.NewMockFailureCounter(ctrl)
	detector, err := audit.NewDetector(counter)
	require.NoError(t, err)

	for _, kind := range []audit.EventType{
		audit.EventLoginSuccess,
		audit.EventUnauthorized,
		audit.EventRateLimited,
		audit.EventAccessDenied,
	} {
		t.Run(string(kind), func(t *testing.T) {
			suspicious, err := detector.Classify(context.Background(), kind, "10.0.0.1", "a@example.com")
			require.NoError(t, err)
			assert.False(t, suspicious)
		})
	}
}

func TestDetectorPropagatesCountErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	counter := mocks.NewMockFailureCounter(ctrl)
	detector, err := audit.NewDetector(counter)
	require.NoError(t, err)

	boom := errors.New("disk I/O error")
	counter.EXPECT().CountByIP(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(0, nil)
	counter.EXPECT().CountByEmail(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(0, boom)

	_, err = detector.Classify(context.Background(), audit.EventLoginFailure, "10.0.0.1", "a@example.com")
	assert.ErrorIs(t, err, boom)
}

func TestNewDetectorRequiresCounter(t *testing.T) {
	_, err := audit.NewDetector(nil)
	assert.Error(t, err)
}
