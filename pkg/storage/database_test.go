package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/obvengine/pkg/attachment"
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/obverr"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "engine.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testIdentity(t *testing.T, seed byte) *crypto.OwnedIdentity {
	t.Helper()
	prng, err := crypto.NewSeededPRNG(bytes.Repeat([]byte{seed}, crypto.SeedLength))
	require.NoError(t, err)
	owned, err := crypto.GenerateOwnedIdentity("https://server.olvid.io", prng)
	require.NoError(t, err)
	return owned
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)

	version, err := GetSchemaVersion(db.SQL())
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	needs, current, target, err := NeedsMigration(db.SQL(), EngineMigrations)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, current, target)

	// Reopening an up to date database is a no-op
	path := db.Path()
	require.NoError(t, db.Close())
	again, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer again.Close()

	version, err = GetSchemaVersion(again.SQL())
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SQL().Exec(`INSERT INTO schema_version (version, applied_at, comment) VALUES (99, 0, 'future')`)
	require.NoError(t, err)
	path := db.Path()
	require.NoError(t, db.Close())

	_, err = Open(context.Background(), Config{Path: path})
	assert.Error(t, err)
}

func TestPerformAndWait(t *testing.T) {
	db := openTestDB(t)
	store := NewIdentityStore()
	alice := testIdentity(t, 1)
	ctx := context.Background()

	t.Run("error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		hookRan := false
		err := db.PerformAndWait(ctx, func(oc *ObvContext) error {
			oc.AddCommitHook(func() { hookRan = true })
			require.NoError(t, store.SaveOwnedIdentity(oc, alice, nil))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, hookRan)

		err = db.PerformAndWait(ctx, func(oc *ObvContext) error {
			_, err := store.OwnedIdentity(oc, alice.Identity())
			return err
		})
		assert.True(t, obverr.Is(err, obverr.KindNotFound))
	})

	t.Run("commit runs hooks in order", func(t *testing.T) {
		var order []int
		err := db.PerformAndWait(ctx, func(oc *ObvContext) error {
			oc.AddCommitHook(func() { order = append(order, 1) })
			oc.AddCommitHook(func() { order = append(order, 2) })
			return store.SaveOwnedIdentity(oc, alice, &identity.Details{FirstName: "Alice"})
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("context is unusable after return", func(t *testing.T) {
		var leaked *ObvContext
		require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
			leaked = oc
			return nil
		}))
		err := store.SaveOwnedIdentity(leaked, alice, nil)
		assert.ErrorIs(t, err, ErrTransactionDone)
	})
}

func TestProtocolInstanceStore(t *testing.T) {
	db := openTestDB(t)
	store := NewProtocolInstanceStore()
	owned := testIdentity(t, 2).Identity()
	uid := crypto.NewSystemPRNG().GenUID()
	ctx := context.Background()

	err := db.PerformAndWait(ctx, func(oc *ObvContext) error {
		_, err := store.Load(oc, owned, 11, uid)
		return err
	})
	require.Error(t, err)
	assert.True(t, obverr.Is(err, obverr.KindNotFound))

	state := encoding.EncodeList(owned.ObvEncode())
	var version int64
	require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
		var err error
		version, err = store.Save(oc, owned, 11, uid, 1, state, 0)
		return err
	}))
	assert.EqualValues(t, 1, version)

	var record *InstanceRecord
	require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
		var err error
		record, err = store.Load(oc, owned, 11, uid)
		return err
	}))
	assert.Equal(t, 1, record.StateID)
	assert.True(t, record.State.Equal(state))
	assert.EqualValues(t, 1, record.Version)

	t.Run("stale version conflicts", func(t *testing.T) {
		err := db.PerformAndWait(ctx, func(oc *ObvContext) error {
			_, err := store.Save(oc, owned, 11, uid, 2, encoding.EncodeList(), 0)
			return err
		})
		assert.True(t, obverr.Is(err, obverr.KindConflict))
		assert.ErrorIs(t, err, ErrConcurrentModification)

		err = db.PerformAndWait(ctx, func(oc *ObvContext) error {
			_, err := store.Save(oc, owned, 11, uid, 2, encoding.EncodeList(), 5)
			return err
		})
		assert.True(t, obverr.Is(err, obverr.KindConflict))
	})

	t.Run("current version updates", func(t *testing.T) {
		require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
			v, err := store.Save(oc, owned, 11, uid, 2, encoding.EncodeList(), record.Version)
			assert.EqualValues(t, 2, v)
			return err
		}))

		var counts map[int]int
		require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
			var err error
			counts, err = store.CountByState(oc, 11)
			return err
		}))
		assert.Equal(t, map[int]int{2: 1}, counts)
	})
}

func TestIdentityStoreContacts(t *testing.T) {
	db := openTestDB(t)
	store := NewIdentityStore()
	alice := testIdentity(t, 3)
	bob := testIdentity(t, 4).Identity()
	ctx := context.Background()

	label := crypto.NewSystemPRNG().GenUID()
	err := db.PerformAndWait(ctx, func(oc *ObvContext) error {
		if err := store.SaveOwnedIdentity(oc, alice, &identity.Details{FirstName: "Alice"}); err != nil {
			return err
		}
		if err := store.AddContact(oc, alice.Identity(), bob, &identity.Details{FirstName: "Bob"}, OriginMutualScan); err != nil {
			return err
		}
		// Second add refreshes details
		if err := store.AddContact(oc, alice.Identity(), bob, &identity.Details{FirstName: "Bobby"}, OriginMutualScan); err != nil {
			return err
		}
		return store.SetContactPhoto(oc, alice.Identity(), bob, label, []byte("jpeg"))
	})
	require.NoError(t, err)

	require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
		loaded, err := store.OwnedIdentity(oc, alice.Identity())
		require.NoError(t, err)
		assert.True(t, loaded.Identity().Equal(alice.Identity()))

		details, err := store.OwnedIdentityDetails(oc, alice.Identity())
		require.NoError(t, err)
		assert.Equal(t, "Alice", details.FirstName)

		ok, err := store.IsContact(oc, alice.Identity(), bob)
		require.NoError(t, err)
		assert.True(t, ok)

		contact, err := store.Contact(oc, alice.Identity(), bob)
		require.NoError(t, err)
		assert.Equal(t, "Bobby", contact.Details.FirstName)
		assert.Equal(t, OriginMutualScan, contact.Origin)
		assert.Equal(t, []byte("jpeg"), contact.Photo)
		require.NotNil(t, contact.PhotoLabel)
		assert.Equal(t, label, *contact.PhotoLabel)

		contacts, err := store.ListContacts(oc, alice.Identity())
		require.NoError(t, err)
		assert.Len(t, contacts, 1)

		owned, err := store.ListOwnedIdentities(oc)
		require.NoError(t, err)
		assert.Len(t, owned, 1)
		return nil
	}))

	err = db.PerformAndWait(ctx, func(oc *ObvContext) error {
		return store.SetContactPhoto(oc, alice.Identity(), testIdentity(t, 5).Identity(), label, nil)
	})
	assert.True(t, obverr.Is(err, obverr.KindNotFound))
}

func TestOutbox(t *testing.T) {
	db := openTestDB(t)
	outbox := NewOutbox(db, time.Hour)
	alice := testIdentity(t, 6).Identity()
	ctx := context.Background()

	var first, second [16]byte
	require.NoError(t, db.PerformAndWait(ctx, func(oc *ObvContext) error {
		id, err := outbox.Post(oc, &OutboxEntry{OwnedIdentity: alice, ChannelKind: 1, Channel: []byte{1}, Payload: []byte("one")})
		first = id
		if err != nil {
			return err
		}
		id, err = outbox.Post(oc, &OutboxEntry{OwnedIdentity: alice, ChannelKind: 3, Channel: []byte{3}, Payload: []byte("two")})
		second = id
		return err
	}))

	// A rolled back post leaves nothing behind
	_ = db.PerformAndWait(ctx, func(oc *ObvContext) error {
		outbox.Post(oc, &OutboxEntry{OwnedIdentity: alice, ChannelKind: 1, Payload: []byte("lost")})
		return errors.New("abort")
	})

	pending, err := outbox.Pending(ctx, -1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "one", string(pending[0].Payload))
	assert.True(t, pending[0].OwnedIdentity.Equal(alice))

	onlyKind3, err := outbox.Pending(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, onlyKind3, 1)
	assert.Equal(t, "two", string(onlyKind3[0].Payload))

	require.NoError(t, outbox.IncrementAttempts(ctx, pending[0].ID))
	require.NoError(t, outbox.MarkSent(ctx, pending[0].ID))
	assert.Error(t, outbox.MarkSent(ctx, pending[0].ID))

	entry, err := outbox.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempts)
	assert.NotNil(t, entry.SentAt)
	assert.Equal(t, first, [16]byte(entry.ID))

	pending, err = outbox.Pending(ctx, -1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, [16]byte(pending[0].ID))
}

func TestChunkStoreWithPipeline(t *testing.T) {
	db := openTestDB(t)
	store := NewChunkStore(db)
	ctx := context.Background()

	prng, err := crypto.NewSeededPRNG(bytes.Repeat([]byte{9}, crypto.SeedLength))
	require.NoError(t, err)
	services := crypto.NewServices(prng)

	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	content := prng.GenBytes(5000)
	require.NoError(t, os.WriteFile(src, content, 0644))

	cfg := attachment.PipelineConfig{ChunkSize: 1000, Workers: 2}
	manifest, err := attachment.EncryptFile(ctx, src, store, services, cfg)
	require.NoError(t, err)

	indices, err := store.ListChunks(ctx, manifest.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indices)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalChunks)
	assert.Equal(t, 1, stats.TotalAttachments)
	encryptedSize, _ := manifest.EncryptedSize()
	assert.Equal(t, encryptedSize, stats.TotalSize)

	dst := filepath.Join(dir, "out.bin")
	require.NoError(t, attachment.DecryptFile(ctx, store, manifest, dst, cfg))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Corrupt a stored chunk behind the store's back
	_, err = db.SQL().Exec(`UPDATE attachment_chunks SET data = ? WHERE chunk_index = 2`, []byte("garbage"))
	require.NoError(t, err)
	_, err = store.GetChunk(ctx, manifest.AttachmentID, 2)
	assert.True(t, obverr.Is(err, obverr.KindIO))

	require.NoError(t, store.DeleteAttachment(ctx, manifest.AttachmentID))
	_, err = store.GetChunk(ctx, manifest.AttachmentID, 0)
	assert.True(t, obverr.Is(err, obverr.KindNotFound))
}
