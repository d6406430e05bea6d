package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndesirableRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddUndesirableRule(ctx, 1, "Interrupts"))
	require.NoError(t, s.AddUndesirableRule(ctx, 1, "Blocks the door"))
	require.NoError(t, s.AddUndesirableRule(ctx, 1, "Interrupts"))
	require.NoError(t, s.AddUndesirableRule(ctx, 2, "Too fast"))

	got, err := s.GetUndesirableRules(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Interrupts", "Blocks the door"}, got)

	require.NoError(t, s.RemoveUndesirableRule(ctx, 1, "interrupts"))
	got, err = s.GetUndesirableRules(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2, "removal matches exact text only")

	require.NoError(t, s.RemoveUndesirableRule(ctx, 1, "Interrupts"))
	got, err = s.GetUndesirableRules(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Blocks the door"}, got)
}

func TestSaveUndesirableRulesReplacesOneScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddUndesirableRule(ctx, 1, "Old"))
	require.NoError(t, s.AddUndesirableRule(ctx, 2, "Other scope"))

	require.NoError(t, s.SaveUndesirableRules(ctx, 1, []string{"New A", "New B", "New A"}))

	got, err := s.GetUndesirableRules(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"New A", "New B"}, got)

	other, err := s.GetUndesirableRules(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Other scope"}, other)

	require.NoError(t, s.SaveUndesirableRules(ctx, 1, nil))
	got, err = s.GetUndesirableRules(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
