package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/pkg/useragent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAgentRegistry_Idempotent(t *testing.T) {
	repo := newMemUserAgents()
	parser := &MockParser{}
	registry, err := NewUserAgentRegistry(repo, parser, 8, discardLogger())
	require.NoError(t, err)

	first, err := registry.GetOrCreate(context.Background(), testUA)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := registry.GetOrCreate(context.Background(), testUA)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}

	assert.Equal(t, 1, repo.insertCount())
	assert.Equal(t, 1, parser.Calls())
	assert.Equal(t, useragent.Hash(testUA), first.Identifier)
	require.NotNil(t, first.BrowserFamily)
	assert.Equal(t, "Firefox", *first.BrowserFamily)
}

func TestUserAgentRegistry_ConcurrentFirstSighting(t *testing.T) {
	repo := newMemUserAgents()
	registry, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	ids := make([]int64, 30)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := registry.GetOrCreate(context.Background(), testUA)
			if assert.NoError(t, err) {
				ids[i] = f.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, repo.insertCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestUserAgentRegistry_SharedAcrossRegistries(t *testing.T) {
	repo := newMemUserAgents()
	a, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)
	b, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	fa, err := a.GetOrCreate(context.Background(), testUA)
	require.NoError(t, err)
	fb, err := b.GetOrCreate(context.Background(), testUA)
	require.NoError(t, err)

	assert.Equal(t, fa.ID, fb.ID)
	assert.Equal(t, 1, repo.insertCount())
}

func TestUserAgentRegistry_LostInsertRace(t *testing.T) {
	winner := &models.DeviceFingerprint{ID: 7, Identifier: useragent.Hash(testUA), UserAgent: testUA}
	lookups := 0
	repo := &MockUserAgentRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
			lookups++
			if lookups == 1 {
				return nil, models.ErrNotFound
			}
			return winner, nil
		},
		InsertIfAbsentFunc: func(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error) {
			return nil, false, nil
		},
	}
	parser := &MockParser{}
	registry, err := NewUserAgentRegistry(repo, parser, 8, discardLogger())
	require.NoError(t, err)

	f, err := registry.GetOrCreate(context.Background(), testUA)

	require.NoError(t, err)
	assert.Equal(t, int64(7), f.ID)
	assert.Equal(t, 0, parser.Calls(), "the winner parses")
}

func TestUserAgentRegistry_TruncatesStoredString(t *testing.T) {
	repo := newMemUserAgents()
	registry, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	long := testUA + " " + string(make([]byte, 600))
	f, err := registry.GetOrCreate(context.Background(), long)

	require.NoError(t, err)
	assert.LessOrEqual(t, len(f.UserAgent), models.MaxUserAgentLength)
	assert.Equal(t, useragent.Hash(long), f.Identifier, "hash covers the full string")
}

func TestUserAgentRegistry_ParseFailureKeepsRecord(t *testing.T) {
	repo := newMemUserAgents()
	parser := &MockParser{ParseFunc: func(string) useragent.Result { return useragent.Result{} }}
	registry, err := NewUserAgentRegistry(repo, parser, 8, discardLogger())
	require.NoError(t, err)

	f, err := registry.GetOrCreate(context.Background(), "???")

	require.NoError(t, err)
	assert.False(t, f.Parsed())
}

func TestUserAgentRegistry_UpdateFailureReturnsUnparsed(t *testing.T) {
	repo := &MockUserAgentRepository{
		UpdateParsedFunc: func(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
			return nil, errors.New("connection reset")
		},
	}
	registry, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	f, err := registry.GetOrCreate(context.Background(), testUA)

	require.NoError(t, err)
	assert.False(t, f.Parsed())
}

func TestUserAgentRegistry_StorageError(t *testing.T) {
	repo := &MockUserAgentRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
			return nil, errors.New("connection refused")
		},
	}
	registry, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	_, err = registry.GetOrCreate(context.Background(), testUA)
	assert.Error(t, err)

	_, err = registry.GetOrCreate(context.Background(), "")
	assert.Error(t, err)
}

func TestUserAgentRegistry_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	repo := &MockUserAgentRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(entered)
				<-release
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, models.ErrNotFound
		},
	}
	registry, err := NewUserAgentRegistry(repo, &MockParser{}, 8, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := registry.GetOrCreate(ctx, testUA)
		firstDone <- err
	}()
	<-entered

	secondDone := make(chan error, 1)
	go func() {
		f, err := registry.GetOrCreate(context.Background(), testUA)
		if err == nil && f == nil {
			err = errors.New("nil fingerprint")
		}
		secondDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(release)

	assert.NoError(t, <-secondDone)
	assert.NoError(t, <-firstDone, "shared lookup runs detached from the first caller")
}
