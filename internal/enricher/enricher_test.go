package enricher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextEnricher_PicksUpRequestAndUserID(t *testing.T) {
	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "user-1")
	out, err := ContextEnricher{}.Enrich(ctx, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "req-1", out["request_id"])
	require.Equal(t, "user-1", out["user_id"])
}

func TestContextEnricher_OmitsAbsentFields(t *testing.T) {
	out, err := ContextEnricher{}.Enrich(context.Background(), map[string]any{})
	require.NoError(t, err)
	_, present := out["request_id"]
	require.False(t, present)
}

func TestContextEnricher_PropagatesTenantFromEvent(t *testing.T) {
	out, err := ContextEnricher{}.Enrich(context.Background(), map[string]any{"tenant_id": "t-1"})
	require.NoError(t, err)
	require.Equal(t, "t-1", out["tenant_id"])
}

func TestRuntimeInfoEnricher_AttachesPidAndHost(t *testing.T) {
	e := RuntimeInfoEnricher{Hostname: func() (string, error) { return "test-host", nil }}
	out, err := e.Enrich(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "test-host", out["host"])
	require.NotZero(t, out["pid"])
	require.Equal(t, "chainlog", out["service"])
}
