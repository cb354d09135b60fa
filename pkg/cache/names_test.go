package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
)

type fakeRepo struct {
	names map[string]string
	calls int
	err   error
}

func (f *fakeRepo) GetName(_ context.Context, id string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("not found")
	}
	return name, nil
}

func newCache(repo *fakeRepo, ttl time.Duration) *NameCache {
	// ClearInterval 0 keeps the janitor off in tests.
	return NewNameCache(repo, NameCacheConfig{TTL: ttl}, logging.NewNoop())
}

func TestGetNameReadsThroughOnce(t *testing.T) {
	repo := &fakeRepo{names: map[string]string{"sys-1": "Naturalis"}}
	c := newCache(repo, time.Minute)

	for i := 0; i < 3; i++ {
		name, err := c.GetName(context.Background(), "sys-1")
		require.NoError(t, err)
		assert.Equal(t, "Naturalis", name)
	}
	assert.Equal(t, 1, repo.calls)
}

func TestGetNameExpiredEntryReloads(t *testing.T) {
	repo := &fakeRepo{names: map[string]string{"sys-1": "Naturalis"}}
	c := newCache(repo, -time.Second)

	_, err := c.GetName(context.Background(), "sys-1")
	require.NoError(t, err)
	_, err = c.GetName(context.Background(), "sys-1")
	require.NoError(t, err)

	assert.Equal(t, 2, repo.calls, "expired entry goes back to the repository")
}

func TestGetNameFailureIsNotCached(t *testing.T) {
	repo := &fakeRepo{err: errors.New("database down")}
	c := newCache(repo, time.Minute)

	_, err := c.GetName(context.Background(), "sys-1")
	require.Error(t, err)

	repo.err = nil
	repo.names = map[string]string{"sys-1": "Naturalis"}
	name, err := c.GetName(context.Background(), "sys-1")
	require.NoError(t, err)
	assert.Equal(t, "Naturalis", name)
}

func TestClear(t *testing.T) {
	repo := &fakeRepo{names: map[string]string{"sys-1": "Naturalis"}}
	c := newCache(repo, time.Minute)

	_, err := c.GetName(context.Background(), "sys-1")
	require.NoError(t, err)
	c.Clear()
	_, err = c.GetName(context.Background(), "sys-1")
	require.NoError(t, err)

	assert.Equal(t, 2, repo.calls)
}
