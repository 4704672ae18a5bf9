package stream

import (
	"context"
	"encoding/json"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/vterm"
	"github.com/roostlabs/roost/protocol"
)

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errs.Malformed("malformed params: " + err.Error())
	}
	return p, nil
}

// dispatch routes one command to its handler. The raw bytes are the
// whole command object; handlers re-decode them into their params type
// alongside the already-read "type" field.
func (s *Server) dispatch(ctx context.Context, c *conn, cmdType string, raw json.RawMessage) (any, error) {
	switch cmdType {
	case protocol.CmdDirectoryUpsert:
		p, err := decodeParams[protocol.DirectoryUpsertParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.UpsertDirectory(ctx, p.Scope, p.Path)

	case protocol.CmdDirectoryList:
		p, err := decodeParams[protocol.DirectoryListParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		dirs, err := st.ListDirectories(ctx, p.Scope, p.IncludeArchived, p.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.DirectoryListResult{Directories: dirs}, nil

	case protocol.CmdDirectoryArchive:
		p, err := decodeParams[protocol.DirectoryArchiveParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.ArchiveDirectory(ctx, p.Scope, p.DirectoryID)

	case protocol.CmdRepositoryUpsert:
		p, err := decodeParams[protocol.RepositoryUpsertParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.UpsertRepository(ctx, p)

	case protocol.CmdRepositoryUpdate:
		p, err := decodeParams[protocol.RepositoryUpdateParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.UpdateRepository(ctx, p)

	case protocol.CmdRepositoryList:
		p, err := decodeParams[protocol.RepositoryListParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		repos, err := st.ListRepositories(ctx, p.Scope, p.IncludeArchived, p.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.RepositoryListResult{Repositories: repos}, nil

	case protocol.CmdRepositoryArchive:
		p, err := decodeParams[protocol.RepositoryArchiveParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.ArchiveRepository(ctx, p.Scope, p.RepositoryID)

	case protocol.CmdConversationCreate:
		p, err := decodeParams[protocol.ConversationCreateParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.CreateConversation(ctx, p)

	case protocol.CmdConversationUpdate:
		p, err := decodeParams[protocol.ConversationUpdateParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.UpdateConversation(ctx, p)

	case protocol.CmdConversationList:
		p, err := decodeParams[protocol.ConversationListParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		convs, err := st.ListConversations(ctx, p.Scope, p.IncludeArchived, p.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.ConversationListResult{Conversations: convs}, nil

	case protocol.CmdConversationArchive:
		p, err := decodeParams[protocol.ConversationArchiveParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.ArchiveConversation(ctx, p.Scope, p.ConversationID)

	case protocol.CmdConversationDelete:
		p, err := decodeParams[protocol.ConversationDeleteParams](raw)
		if err != nil {
			return nil, err
		}
		// A live session rides on the conversation id; the record must
		// outlive it.
		if live, err := s.coord.Get(p.ConversationID); err == nil && live.Live() {
			return nil, errs.Conflictf("conversation %s has a live session", p.ConversationID)
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		if err := st.DeleteConversation(ctx, p.Scope, p.ConversationID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdTaskCreate:
		p, err := decodeParams[protocol.TaskCreateParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.CreateTask(ctx, p)

	case protocol.CmdTaskUpdate:
		p, err := decodeParams[protocol.TaskUpdateParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.UpdateTask(ctx, p)

	case protocol.CmdTaskReady:
		p, err := decodeParams[protocol.TaskIDParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.ReadyTask(ctx, p.Scope, p.TaskID)

	case protocol.CmdTaskDraft:
		p, err := decodeParams[protocol.TaskIDParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.DraftTask(ctx, p.Scope, p.TaskID)

	case protocol.CmdTaskComplete:
		p, err := decodeParams[protocol.TaskIDParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		return st.CompleteTask(ctx, p.Scope, p.TaskID)

	case protocol.CmdTaskReorder:
		p, err := decodeParams[protocol.TaskReorderParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		tasks, err := st.ReorderTasks(ctx, p.Scope, p.OrderedTaskIDs)
		if err != nil {
			return nil, err
		}
		return protocol.TaskListResult{Tasks: tasks}, nil

	case protocol.CmdTaskDelete:
		p, err := decodeParams[protocol.TaskIDParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		if err := st.DeleteTask(ctx, p.Scope, p.TaskID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdTaskList:
		p, err := decodeParams[protocol.TaskListParams](raw)
		if err != nil {
			return nil, err
		}
		st, err := s.stores.ForScope(p.Scope)
		if err != nil {
			return nil, err
		}
		tasks, err := st.ListTasks(ctx, p.Scope, p.IncludeCompleted, p.Limit)
		if err != nil {
			return nil, err
		}
		return protocol.TaskListResult{Tasks: tasks}, nil

	case protocol.CmdPTYStart:
		p, err := decodeParams[protocol.PTYStartParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Start(ctx, p)
		if err != nil {
			return nil, err
		}
		return protocol.PTYStartResult{SessionID: sess.ID, PID: sess.PID()}, nil

	case protocol.CmdPTYAttach:
		p, err := decodeParams[protocol.PTYAttachParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		a, latest := newAttachment(c, sess, p.SinceCursor, false)
		c.addAttachment(a)
		return protocol.PTYAttachResult{AttachmentID: a.id, LatestCursor: latest}, nil

	case protocol.CmdPTYDetach:
		p, err := decodeParams[protocol.PTYDetachParams](raw)
		if err != nil {
			return nil, err
		}
		if a := c.removeAttachment(p.AttachmentID); a != nil {
			a.stop(true)
		}
		return struct{}{}, nil

	case protocol.CmdPTYClose:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.Close(); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdPTYSubscribeEvents:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		if _, ok := c.eventSubFor(p.SessionID); ok {
			return struct{}{}, nil
		}
		a, _ := newAttachment(c, sess, 0, true)
		c.addEventSub(p.SessionID, a)
		return struct{}{}, nil

	case protocol.CmdPTYUnsubscribeEvents:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		if a := c.removeEventSub(p.SessionID); a != nil {
			a.stop(true)
		}
		return struct{}{}, nil

	case protocol.CmdSessionList:
		p, err := decodeParams[protocol.SessionListParams](raw)
		if err != nil {
			return nil, err
		}
		return protocol.SessionListResult{Sessions: s.coord.List(p.Scope)}, nil

	case protocol.CmdSessionStatus:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Info(), nil

	case protocol.CmdSessionSnapshot:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return frameDTO(sess.Snapshot()), nil

	case protocol.CmdSessionRespond:
		p, err := decodeParams[protocol.SessionRespondParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.Respond(p.Text, p.ControllerID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdSessionClaim:
		p, err := decodeParams[protocol.SessionClaimParams](raw)
		if err != nil {
			return nil, err
		}
		if p.ControllerID == "" {
			return nil, errs.Invalidf("controllerId is required")
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Claim(p)

	case protocol.CmdSessionRelease:
		p, err := decodeParams[protocol.SessionReleaseParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Release(p.Reason), nil

	case protocol.CmdSessionInterrupt:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		sess, err := s.coord.Get(p.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.Interrupt(); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdSessionRemove:
		p, err := decodeParams[protocol.SessionIDParams](raw)
		if err != nil {
			return nil, err
		}
		if err := s.coord.Remove(p.SessionID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case protocol.CmdAttentionList:
		p, err := decodeParams[protocol.AttentionListParams](raw)
		if err != nil {
			return nil, err
		}
		return protocol.AttentionListResult{Entries: s.coord.Attention(p.Scope)}, nil

	case protocol.CmdStreamSubscribe:
		p, err := decodeParams[protocol.StreamSubscribeParams](raw)
		if err != nil {
			return nil, err
		}
		sub := newSubscription(c, p, s.queueSize)
		c.addSubscription(sub)
		return protocol.StreamSubscribeResult{SubscriptionID: sub.id}, nil

	case protocol.CmdStreamUnsubscribe:
		p, err := decodeParams[protocol.StreamUnsubscribeParams](raw)
		if err != nil {
			return nil, err
		}
		sub := c.removeSubscription(p.SubscriptionID)
		if sub == nil {
			return nil, errs.NotFound("subscription")
		}
		sub.stop()
		return struct{}{}, nil

	default:
		return nil, errs.Invalidf("unknown command type %q", cmdType)
	}
}

func frameDTO(f vterm.Frame) protocol.Frame {
	return protocol.Frame{
		Rows:         f.Rows,
		Cols:         f.Cols,
		ActiveScreen: f.ActiveScreen,
		Cursor:       protocol.FrameCursor{Row: f.Cursor.Row, Col: f.Cursor.Col, Visible: f.Cursor.Visible},
		Lines:        f.Lines,
		FrameHash:    f.FrameHash,
	}
}
