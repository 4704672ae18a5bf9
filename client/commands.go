package client

import (
	"context"

	"github.com/roostlabs/roost/protocol"
)

// UpsertDirectory registers a working directory, returning the existing
// row when the normalized path is already present in the scope.
func (c *Client) UpsertDirectory(ctx context.Context, p protocol.DirectoryUpsertParams) (*protocol.Directory, error) {
	var dir protocol.Directory
	if err := c.Call(ctx, protocol.CmdDirectoryUpsert, p, &dir); err != nil {
		return nil, err
	}
	return &dir, nil
}

func (c *Client) ListDirectories(ctx context.Context, p protocol.DirectoryListParams) ([]protocol.Directory, error) {
	var res protocol.DirectoryListResult
	if err := c.Call(ctx, protocol.CmdDirectoryList, p, &res); err != nil {
		return nil, err
	}
	return res.Directories, nil
}

func (c *Client) ArchiveDirectory(ctx context.Context, p protocol.DirectoryArchiveParams) (*protocol.Directory, error) {
	var dir protocol.Directory
	if err := c.Call(ctx, protocol.CmdDirectoryArchive, p, &dir); err != nil {
		return nil, err
	}
	return &dir, nil
}

func (c *Client) UpsertRepository(ctx context.Context, p protocol.RepositoryUpsertParams) (*protocol.Repository, error) {
	var repo protocol.Repository
	if err := c.Call(ctx, protocol.CmdRepositoryUpsert, p, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *Client) UpdateRepository(ctx context.Context, p protocol.RepositoryUpdateParams) (*protocol.Repository, error) {
	var repo protocol.Repository
	if err := c.Call(ctx, protocol.CmdRepositoryUpdate, p, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *Client) ListRepositories(ctx context.Context, p protocol.RepositoryListParams) ([]protocol.Repository, error) {
	var res protocol.RepositoryListResult
	if err := c.Call(ctx, protocol.CmdRepositoryList, p, &res); err != nil {
		return nil, err
	}
	return res.Repositories, nil
}

func (c *Client) ArchiveRepository(ctx context.Context, p protocol.RepositoryArchiveParams) (*protocol.Repository, error) {
	var repo protocol.Repository
	if err := c.Call(ctx, protocol.CmdRepositoryArchive, p, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *Client) CreateConversation(ctx context.Context, p protocol.ConversationCreateParams) (*protocol.Conversation, error) {
	var conv protocol.Conversation
	if err := c.Call(ctx, protocol.CmdConversationCreate, p, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) UpdateConversation(ctx context.Context, p protocol.ConversationUpdateParams) (*protocol.Conversation, error) {
	var conv protocol.Conversation
	if err := c.Call(ctx, protocol.CmdConversationUpdate, p, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ListConversations(ctx context.Context, p protocol.ConversationListParams) ([]protocol.Conversation, error) {
	var res protocol.ConversationListResult
	if err := c.Call(ctx, protocol.CmdConversationList, p, &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

func (c *Client) ArchiveConversation(ctx context.Context, p protocol.ConversationArchiveParams) (*protocol.Conversation, error) {
	var conv protocol.Conversation
	if err := c.Call(ctx, protocol.CmdConversationArchive, p, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes the conversation row outright. It fails
// with a conflict while a live session rides on the conversation id.
func (c *Client) DeleteConversation(ctx context.Context, p protocol.ConversationDeleteParams) error {
	return c.Call(ctx, protocol.CmdConversationDelete, p, nil)
}

func (c *Client) CreateTask(ctx context.Context, p protocol.TaskCreateParams) (*protocol.Task, error) {
	var task protocol.Task
	if err := c.Call(ctx, protocol.CmdTaskCreate, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) UpdateTask(ctx context.Context, p protocol.TaskUpdateParams) (*protocol.Task, error) {
	var task protocol.Task
	if err := c.Call(ctx, protocol.CmdTaskUpdate, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) ReadyTask(ctx context.Context, p protocol.TaskIDParams) (*protocol.Task, error) {
	var task protocol.Task
	if err := c.Call(ctx, protocol.CmdTaskReady, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) DraftTask(ctx context.Context, p protocol.TaskIDParams) (*protocol.Task, error) {
	var task protocol.Task
	if err := c.Call(ctx, protocol.CmdTaskDraft, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CompleteTask(ctx context.Context, p protocol.TaskIDParams) (*protocol.Task, error) {
	var task protocol.Task
	if err := c.Call(ctx, protocol.CmdTaskComplete, p, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ReorderTasks applies the given dense order to the active tasks and
// returns the reindexed list.
func (c *Client) ReorderTasks(ctx context.Context, p protocol.TaskReorderParams) ([]protocol.Task, error) {
	var res protocol.TaskListResult
	if err := c.Call(ctx, protocol.CmdTaskReorder, p, &res); err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

func (c *Client) DeleteTask(ctx context.Context, p protocol.TaskIDParams) error {
	return c.Call(ctx, protocol.CmdTaskDelete, p, nil)
}

func (c *Client) ListTasks(ctx context.Context, p protocol.TaskListParams) ([]protocol.Task, error) {
	var res protocol.TaskListResult
	if err := c.Call(ctx, protocol.CmdTaskList, p, &res); err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

// StartSession spawns an agent on a fresh PTY and returns its session
// id (which doubles as the conversation id) and child pid.
func (c *Client) StartSession(ctx context.Context, p protocol.PTYStartParams) (*protocol.PTYStartResult, error) {
	var res protocol.PTYStartResult
	if err := c.Call(ctx, protocol.CmdPTYStart, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Attach opens an output stream for the session. Chunks with cursor >
// SinceCursor are replayed from the backlog, then live output follows
// on OnOutput; the exit record arrives on OnExit.
func (c *Client) Attach(ctx context.Context, p protocol.PTYAttachParams) (*protocol.PTYAttachResult, error) {
	var res protocol.PTYAttachResult
	if err := c.Call(ctx, protocol.CmdPTYAttach, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Detach closes an attachment. Detaching an unknown attachment is a
// no-op.
func (c *Client) Detach(ctx context.Context, p protocol.PTYDetachParams) error {
	return c.Call(ctx, protocol.CmdPTYDetach, p, nil)
}

// CloseSession terminates the session's child process. The session
// record stays until RemoveSession.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.CmdPTYClose, protocol.SessionIDParams{SessionID: sessionID}, nil)
}

// SubscribeSessionEvents delivers the session's exit on OnExit without
// streaming its output. Idempotent per connection and session.
func (c *Client) SubscribeSessionEvents(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.CmdPTYSubscribeEvents, protocol.SessionIDParams{SessionID: sessionID}, nil)
}

func (c *Client) UnsubscribeSessionEvents(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.CmdPTYUnsubscribeEvents, protocol.SessionIDParams{SessionID: sessionID}, nil)
}

func (c *Client) ListSessions(ctx context.Context, p protocol.SessionListParams) ([]protocol.SessionInfo, error) {
	var res protocol.SessionListResult
	if err := c.Call(ctx, protocol.CmdSessionList, p, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*protocol.SessionInfo, error) {
	var info protocol.SessionInfo
	if err := c.Call(ctx, protocol.CmdSessionStatus, protocol.SessionIDParams{SessionID: sessionID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SessionSnapshot returns the session's rendered screen. Available for
// exited sessions too, until they are removed.
func (c *Client) SessionSnapshot(ctx context.Context, sessionID string) (*protocol.Frame, error) {
	var frame protocol.Frame
	if err := c.Call(ctx, protocol.CmdSessionSnapshot, protocol.SessionIDParams{SessionID: sessionID}, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Respond types text into a session that is waiting for input.
func (c *Client) Respond(ctx context.Context, p protocol.SessionRespondParams) error {
	return c.Call(ctx, protocol.CmdSessionRespond, p, nil)
}

// Claim takes the controller seat on a session. With Takeover it
// replaces the current controller; without, claiming a held session
// fails with a conflict naming the holder.
func (c *Client) Claim(ctx context.Context, p protocol.SessionClaimParams) (*protocol.SessionClaimResult, error) {
	var res protocol.SessionClaimResult
	if err := c.Call(ctx, protocol.CmdSessionClaim, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Release gives up the controller seat. Releasing an unowned session
// reports Released=false rather than failing.
func (c *Client) Release(ctx context.Context, p protocol.SessionReleaseParams) (*protocol.SessionReleaseResult, error) {
	var res protocol.SessionReleaseResult
	if err := c.Call(ctx, protocol.CmdSessionRelease, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Interrupt sends the interrupt signal to the session's child.
func (c *Client) Interrupt(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.CmdSessionInterrupt, protocol.SessionIDParams{SessionID: sessionID}, nil)
}

// RemoveSession drops an exited session's record, backlog, and
// snapshot.
func (c *Client) RemoveSession(ctx context.Context, sessionID string) error {
	return c.Call(ctx, protocol.CmdSessionRemove, protocol.SessionIDParams{SessionID: sessionID}, nil)
}

func (c *Client) ListAttention(ctx context.Context, p protocol.AttentionListParams) ([]protocol.AttentionEntry, error) {
	var res protocol.AttentionListResult
	if err := c.Call(ctx, protocol.CmdAttentionList, p, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Subscribe opens an observed-event subscription; matching events
// arrive on OnEvent tagged with the returned subscription id.
func (c *Client) Subscribe(ctx context.Context, p protocol.StreamSubscribeParams) (string, error) {
	var res protocol.StreamSubscribeResult
	if err := c.Call(ctx, protocol.CmdStreamSubscribe, p, &res); err != nil {
		return "", err
	}
	return res.SubscriptionID, nil
}

func (c *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return c.Call(ctx, protocol.CmdStreamUnsubscribe, protocol.StreamUnsubscribeParams{SubscriptionID: subscriptionID}, nil)
}
