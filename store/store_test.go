package store_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(text string) store.Message {
	return store.Message{Role: store.RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

func assistantMsg(text string) store.Message {
	return store.Message{Role: store.RoleAssistant, Content: text, CreatedAt: time.Now().UTC()}
}

// runStoreSuite exercises the SessionStore contract against a backend.
func runStoreSuite(t *testing.T, st store.SessionStore) {
	ctx := t.Context()

	t.Run("create_load_order", func(t *testing.T) {
		s, err := st.Create(ctx, "First chat")
		require.NoError(t, err)
		require.NotEmpty(t, s.ID)

		var want []string
		for i := 0; i < 10; i++ {
			text := fmt.Sprintf("msg-%d", i)
			want = append(want, text)
			require.NoError(t, st.Append(ctx, s.ID, userMsg(text)))
		}

		loaded, err := st.Load(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, loaded.Messages, len(want))
		for i, text := range want {
			assert.Equal(t, text, loaded.Messages[i].Content)
		}
		assert.False(t, loaded.UpdatedAt.Before(loaded.CreatedAt))
	})

	t.Run("unknown_id", func(t *testing.T) {
		_, err := st.Load(ctx, "nosuch")
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))

		err = st.Append(ctx, "nosuch", userMsg("x"))
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))

		err = st.Rename(ctx, "nosuch", "t")
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))

		before, err := st.List(ctx)
		require.NoError(t, err)
		err = st.Delete(ctx, "nosuch")
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))
		after, err := st.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(before), len(after), "failed delete must not change the store")
	})

	t.Run("concurrent_sessions_isolated", func(t *testing.T) {
		a, err := st.Create(ctx, "A")
		require.NoError(t, err)
		b, err := st.Create(ctx, "B")
		require.NoError(t, err)

		const n = 25
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				require.NoError(t, st.Append(ctx, a.ID, userMsg(fmt.Sprintf("a-%d", i))))
			}(i)
			go func(i int) {
				defer wg.Done()
				require.NoError(t, st.Append(ctx, b.ID, assistantMsg(fmt.Sprintf("b-%d", i))))
			}(i)
		}
		wg.Wait()

		sa, err := st.Load(ctx, a.ID)
		require.NoError(t, err)
		sb, err := st.Load(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, sa.Messages, n)
		require.Len(t, sb.Messages, n)
		for _, msg := range sa.Messages {
			assert.Contains(t, msg.Content, "a-")
		}
		for _, msg := range sb.Messages {
			assert.Contains(t, msg.Content, "b-")
		}
	})

	t.Run("list_recency", func(t *testing.T) {
		older, err := st.Create(ctx, "Older")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		newer, err := st.Create(ctx, "Newer")
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)
		require.NoError(t, st.Append(ctx, older.ID, userMsg("bump")))

		list, err := st.List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, list)

		pos := map[string]int{}
		for i, summary := range list {
			pos[summary.ID] = i
		}
		assert.Less(t, pos[older.ID], pos[newer.ID], "appending must move the session to the front")
	})

	t.Run("rename_delete", func(t *testing.T) {
		s, err := st.Create(ctx, "Temp")
		require.NoError(t, err)
		require.NoError(t, st.Rename(ctx, s.ID, "Renamed"))

		loaded, err := st.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Title)

		require.NoError(t, st.Delete(ctx, s.ID))
		_, err = st.Load(ctx, s.ID)
		assert.True(t, errors.Is(err, store.ErrSessionNotFound))
	})

	t.Run("export_import_roundtrip", func(t *testing.T) {
		s, err := st.Create(ctx, "Exported")
		require.NoError(t, err)
		require.NoError(t, st.Append(ctx, s.ID,
			userMsg("what is the weather in Paris?"),
			store.Message{Role: store.RoleTool, Content: "18C, sunny", CreatedAt: time.Now().UTC()},
			assistantMsg("It is 18C and sunny in Paris."),
		))

		data, err := st.Export(ctx, s.ID)
		require.NoError(t, err)

		require.NoError(t, st.Delete(ctx, s.ID))

		imported, err := st.Import(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, s.ID, imported.ID)

		loaded, err := st.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "Exported", loaded.Title)
		require.Len(t, loaded.Messages, 3)
		assert.Equal(t, store.RoleTool, loaded.Messages[1].Role)
		assert.Equal(t, "It is 18C and sunny in Paris.", loaded.Messages[2].Content)
	})

	t.Run("import_rejects_malformed", func(t *testing.T) {
		tcases := []struct {
			name string
			data string
		}{
			{"not_json", "not json"},
			{"missing_id", `{"title":"x","messages":[]}`},
			{"unknown_top_field", `{"id":"1","title":"x","messages":[],"extra":1}`},
			{"bad_role", `{"id":"1","title":"x","messages":[{"role":"wizard","content":"x"}]}`},
		}
		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := st.Import(ctx, []byte(tc.data))
				require.Error(t, err)
				assert.True(t, errors.Is(err, store.ErrMalformedSession), "got: %v", err)
			})
		}
	})
}

func Test_MemoryStore(t *testing.T) {
	runStoreSuite(t, store.NewMemoryStore())
}

func Test_FileStore(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreSuite(t, st)
}

func Test_FileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	s, err := st.Create(t.Context(), "Persistent")
	require.NoError(t, err)
	require.NoError(t, st.Append(t.Context(), s.ID, userMsg("hello")))

	// A fresh store over the same directory sees the data.
	st2, err := store.NewFileStore(dir)
	require.NoError(t, err)
	loaded, err := st2.Load(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persistent", loaded.Title)
	require.Len(t, loaded.Messages, 1)
}

func Test_FileStore_RequiresDir(t *testing.T) {
	_, err := store.NewFileStore("")
	require.Error(t, err)
}
