package store_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-extension-auth/identity"
	"github.com/jrsteele09/go-extension-auth/store"
)

func setupFileRepo(t *testing.T) (*store.FileRepo, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.json")
	repo, err := store.NewFileRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestFileRepoPutGetClear(t *testing.T) {
	repo, path := setupFileRepo(t)

	_, err := repo.Get(context.Background())
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, repo.Put(context.Background(), testSession("u1")))
	stored, err := repo.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UID)

	// The record holds a credential: owner-only permissions.
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, repo.Clear(context.Background()))
	_, err = repo.Get(context.Background())
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileRepoPersistedShape(t *testing.T) {
	repo, path := setupFileRepo(t)
	require.NoError(t, repo.Put(context.Background(), testSession("u1")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Contains(t, envelope, "firebaseAuth")

	var record identity.Session
	require.NoError(t, json.Unmarshal(envelope["firebaseAuth"], &record))
	require.Equal(t, "u1", record.UID)
	require.Equal(t, "T1", record.AccessToken)
}

func TestFileRepoSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := store.NewFileRepo(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), testSession("u1")))
	require.NoError(t, first.Close())

	second, err := store.NewFileRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	stored, err := second.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UID)
}

func TestFileRepoIgnoresInvalidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"firebaseAuth":{"email":"a@b.com"}}`), 0o600))

	repo, err := store.NewFileRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.Get(context.Background())
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestFileRepoDetectsExternalWrite(t *testing.T) {
	repo, path := setupFileRepo(t)
	recorder := &changeRecorder{}
	unsubscribe := repo.Subscribe(recorder.listener())
	defer unsubscribe()

	// Another process writes the shared file directly.
	data, err := json.Marshal(map[string]*identity.Session{"firebaseAuth": testSession("u2")})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, waitFor, tick)
	last := recorder.last()
	require.Equal(t, "u2", last.new.UID)
}

func TestFileRepoDetectsExternalRemoval(t *testing.T) {
	repo, path := setupFileRepo(t)
	require.NoError(t, repo.Put(context.Background(), testSession("u1")))

	recorder := &changeRecorder{}
	unsubscribe := repo.Subscribe(recorder.listener())
	defer unsubscribe()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, waitFor, tick)
	require.Nil(t, recorder.last().new)
}

func TestTwoFileReposObserveEachOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	background, err := store.NewFileRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = background.Close() })

	popup, err := store.NewFileRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = popup.Close() })

	recorder := &changeRecorder{}
	unsubscribe := popup.Subscribe(recorder.listener())
	defer unsubscribe()

	require.NoError(t, background.Put(context.Background(), testSession("u1")))

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, waitFor, tick)
	require.Equal(t, "u1", recorder.last().new.UID)

	// The observer re-queries and sees the writer's record.
	stored, err := popup.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UID)
}

func TestFileRepoDuplicatePutIsSilent(t *testing.T) {
	repo, _ := setupFileRepo(t)
	recorder := &changeRecorder{}
	unsubscribe := repo.Subscribe(recorder.listener())
	defer unsubscribe()

	first := testSession("u1")
	require.NoError(t, repo.Put(context.Background(), first))

	duplicate := first.Clone()
	duplicate.Timestamp = first.Timestamp.Add(time.Minute)
	require.NoError(t, repo.Put(context.Background(), duplicate))

	require.Eventually(t, func() bool { return recorder.count() == 1 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, recorder.count())
}
