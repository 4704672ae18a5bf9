package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/store"
	"github.com/roostlabs/roost/protocol"
)

func mkTask(t *testing.T, st *store.Store, title string) protocol.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), protocol.TaskCreateParams{
		Scope: testScope, Title: title,
	})
	require.NoError(t, err)
	return task
}

func activeOrder(t *testing.T, st *store.Store) []string {
	t.Helper()
	tasks, err := st.ListTasks(context.Background(), testScope, false, 0)
	require.NoError(t, err)
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		require.Equal(t, i, task.OrderIndex, "order indexes must stay dense")
		titles[i] = task.Title
	}
	return titles
}

func TestTasks_CreateAppendsDense(t *testing.T) {
	st, _ := newTestStore(t)

	a := mkTask(t, st, "a")
	b := mkTask(t, st, "b")
	c := mkTask(t, st, "c")

	require.Equal(t, 0, a.OrderIndex)
	require.Equal(t, 1, b.OrderIndex)
	require.Equal(t, 2, c.OrderIndex)
	require.Equal(t, protocol.TaskDraft, a.Status)
}

func TestTasks_Transitions(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	task := mkTask(t, st, "work")

	// draft -> ready -> draft -> ready -> in-progress -> completed.
	ready, err := st.ReadyTask(ctx, testScope, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, protocol.TaskReady, ready.Status)

	draft, err := st.DraftTask(ctx, testScope, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, protocol.TaskDraft, draft.Status)

	_, err = st.ReadyTask(ctx, testScope, task.TaskID)
	require.NoError(t, err)

	inProgress := protocol.TaskInProgress
	started, err := st.UpdateTask(ctx, protocol.TaskUpdateParams{
		Scope: testScope, TaskID: task.TaskID, Status: &inProgress,
	})
	require.NoError(t, err)
	require.Equal(t, protocol.TaskInProgress, started.Status)

	// in-progress cannot fall back to draft.
	toDraft := protocol.TaskDraft
	_, err = st.UpdateTask(ctx, protocol.TaskUpdateParams{
		Scope: testScope, TaskID: task.TaskID, Status: &toDraft,
	})
	require.Error(t, err)

	done, err := st.CompleteTask(ctx, testScope, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, protocol.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Completed is terminal.
	_, err = st.ReadyTask(ctx, testScope, task.TaskID)
	require.Error(t, err)
}

func TestTasks_CompleteFromDraftRejected(t *testing.T) {
	st, _ := newTestStore(t)
	task := mkTask(t, st, "work")
	_, err := st.CompleteTask(context.Background(), testScope, task.TaskID)
	require.Error(t, err)
}

func TestTasks_CompleteClosesOrderGap(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	mkTask(t, st, "a")
	b := mkTask(t, st, "b")
	mkTask(t, st, "c")

	inProgress := protocol.TaskInProgress
	_, err := st.UpdateTask(ctx, protocol.TaskUpdateParams{Scope: testScope, TaskID: b.TaskID, Status: &inProgress})
	require.NoError(t, err)
	_, err = st.CompleteTask(ctx, testScope, b.TaskID)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "c"}, activeOrder(t, st))
}

func TestTasks_Reorder(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	a := mkTask(t, st, "a")
	mkTask(t, st, "b")
	c := mkTask(t, st, "c")
	mkTask(t, st, "d")

	// Listing a subset moves it to the front; the rest keep relative order.
	ordered, err := st.ReorderTasks(ctx, testScope, []string{c.TaskID, a.TaskID})
	require.NoError(t, err)
	require.Len(t, ordered, 4)
	require.Equal(t, []string{"c", "a", "b", "d"}, activeOrder(t, st))

	_, err = st.ReorderTasks(ctx, testScope, []string{"missing"})
	require.Error(t, err)

	_, err = st.ReorderTasks(ctx, testScope, []string{a.TaskID, a.TaskID})
	require.Error(t, err)
}

func TestTasks_ListCompletedLast(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	a := mkTask(t, st, "a")
	mkTask(t, st, "b")

	inProgress := protocol.TaskInProgress
	_, err := st.UpdateTask(ctx, protocol.TaskUpdateParams{Scope: testScope, TaskID: a.TaskID, Status: &inProgress})
	require.NoError(t, err)
	_, err = st.CompleteTask(ctx, testScope, a.TaskID)
	require.NoError(t, err)

	active, err := st.ListTasks(ctx, testScope, false, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "b", active[0].Title)

	all, err := st.ListTasks(ctx, testScope, true, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].Title)
	require.Equal(t, "a", all[1].Title)
}

func TestTasks_DeleteRedensifies(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	mkTask(t, st, "a")
	b := mkTask(t, st, "b")
	mkTask(t, st, "c")

	require.NoError(t, st.DeleteTask(ctx, testScope, b.TaskID))
	require.Equal(t, []string{"a", "c"}, activeOrder(t, st))

	require.Error(t, st.DeleteTask(ctx, testScope, b.TaskID))
}

func TestTasks_RepositoryBinding(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	repo, err := st.UpsertRepository(ctx, protocol.RepositoryUpsertParams{
		Scope: testScope, Name: "roost", RemoteURL: "https://github.com/roostlabs/roost",
	})
	require.NoError(t, err)

	task, err := st.CreateTask(ctx, protocol.TaskCreateParams{
		Scope: testScope, Title: "wire ci", RepositoryID: &repo.RepositoryID,
	})
	require.NoError(t, err)
	require.NotNil(t, task.RepositoryID)
	require.Equal(t, repo.RepositoryID, *task.RepositoryID)

	missing := "nope"
	_, err = st.CreateTask(ctx, protocol.TaskCreateParams{
		Scope: testScope, Title: "bad", RepositoryID: &missing,
	})
	require.Error(t, err)

	// Clearing the binding.
	empty := ""
	updated, err := st.UpdateTask(ctx, protocol.TaskUpdateParams{
		Scope: testScope, TaskID: task.TaskID, RepositoryID: &empty,
	})
	require.NoError(t, err)
	require.Nil(t, updated.RepositoryID)
}

func TestManager_ScopeIsolation(t *testing.T) {
	mgr := store.NewManager(func(_, _, _ string) string { return ":memory:" }, nil)
	t.Cleanup(func() { _ = mgr.Close() })
	ctx := context.Background()

	first, err := mgr.ForScope(testScope)
	require.NoError(t, err)
	again, err := mgr.ForScope(testScope)
	require.NoError(t, err)
	require.Same(t, first, again)

	other, err := mgr.ForScope(protocol.Scope{TenantID: "acme", UserID: "dev", WorkspaceID: "side"})
	require.NoError(t, err)
	require.NotSame(t, first, other)

	_, err = mgr.ForScope(protocol.Scope{TenantID: "Bad Tenant!", UserID: "dev", WorkspaceID: "main"})
	require.Error(t, err)

	_, err = first.UpsertDirectory(ctx, testScope, "/tmp/x")
	require.NoError(t, err)
	dirs, err := other.ListDirectories(ctx, protocol.Scope{TenantID: "acme", UserID: "dev", WorkspaceID: "side"}, false, 0)
	require.NoError(t, err)
	require.Empty(t, dirs)
}
