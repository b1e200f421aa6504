package carrier

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestError_WrapsCause(t *testing.T) {
	e := NewError("DELHIVERY", "auth", ErrAuthFailed).WithStatusCode(401)
	require.ErrorIs(t, e, ErrAuthFailed)
	require.Equal(t, 401, e.StatusCode)
	require.Contains(t, e.Error(), "DELHIVERY")
	require.Contains(t, e.Error(), "auth")
}

func TestError_NoCause(t *testing.T) {
	e := NewError("SHIPROCKET", "bulk fetch http 503", nil)
	require.Equal(t, "SHIPROCKET: bulk fetch http 503", e.Error())
	require.False(t, errors.Is(e, ErrAuthFailed))
}
