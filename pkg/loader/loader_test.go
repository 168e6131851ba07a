package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeRecordsInvocations(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Load(context.Background(), []byte{1, 2, 3}, LoadArgs{ContainerID: 1, Path: "/a"}))
	require.NoError(t, f.Load(context.Background(), []byte{1}, LoadArgs{ContainerID: 2, Path: "/b"}))

	got := f.Invocations()
	require.Len(t, got, 2)
	require.Equal(t, 3, got[0].ELFSize)
	require.Equal(t, uint64(1), got[0].Args.ContainerID)
	require.Equal(t, 1, got[1].ELFSize)
}

func TestFakeReturnsConfiguredError(t *testing.T) {
	f := NewFake()
	f.Err = errors.New("boom")
	err := f.Load(context.Background(), nil, LoadArgs{})
	require.ErrorIs(t, err, f.Err)
}

func TestFakeInvocationsAreCopies(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Load(context.Background(), []byte{1}, LoadArgs{ContainerID: 1}))
	got := f.Invocations()
	got[0].ELFSize = 999
	require.Equal(t, 1, f.Invocations()[0].ELFSize)
}
