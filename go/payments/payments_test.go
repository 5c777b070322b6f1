package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeAuthorize(t *testing.T) {
	auth, err := Fake{}.Authorize(context.Background(), 2563, "pm_card")
	require.NoError(t, err)
	require.Equal(t, "fake", auth.Processor)
	require.True(t, strings.HasPrefix(auth.PaymentIntentID, "pi_"))
	require.Equal(t, int64(2563), auth.AmountMinor)

	require.NoError(t, Fake{}.Capture(context.Background(), auth.PaymentIntentID))
	require.NoError(t, Fake{}.Refund(context.Background(), auth.PaymentIntentID))
}

func TestNewSelectsProcessor(t *testing.T) {
	p, err := New("", "")
	require.NoError(t, err)
	require.IsType(t, Fake{}, p)

	p, err = New("stripe", "sk_test_x")
	require.NoError(t, err)
	require.NotNil(t, p)

	var _, errUnknown = New("acme", "")
	require.Error(t, errUnknown)
}
