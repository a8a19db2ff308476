package engine

import (
	"context"

	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Submit builds a Task from taskType/params/userData, allocates its
// request ID from the registry, and pushes it onto the task queue
// (spec.md §6: "every async method... returns a request ID"). cb is
// invoked exactly once (spec.md P1): on a worker goroutine once the task
// runs, or synchronously on the caller's goroutine if Submit itself fails.
func (e *Engine) Submit(taskType types.TaskType, params any, userData any, cb func(types.Result)) uint64 {
	task := &types.Task{
		RequestID: e.requests.Next(),
		Type:      taskType,
		Params:    params,
		UserData:  userData,
		Callback:  cb,
	}
	if err := e.tasks.Submit(task); err != nil {
		if cb != nil {
			cb(types.Result{Err: err})
		}
	}
	return task.RequestID
}

// Per-family parameter shapes. One struct per TaskType, type-asserted by
// the matching handler func in registerTaskHandlers.

type CreateIdentityParams struct {
	Name                             string
	SigningSeed, EncSeed, MasterSeed []byte
	Mnemonic, Password               string
}

type LoadIdentityParams struct {
	Fingerprint, Password string
	Minimal               bool
}

type DeleteIdentityParams struct{ Fingerprint string }

type AddContactParams struct{ Identifier string }

type RemoveContactParams struct{ Fingerprint string }

type SendContactRequestParams struct {
	Recipient, Message, Notes string
	Sign                      func([]byte) ([]byte, error)
}

type ApproveContactRequestParams struct {
	Request *handlers.ContactRequest
	Sign    func([]byte) ([]byte, error)
}

type SendMessageParams struct {
	Recipient, MessageType string
	Plaintext              []byte
}

type QueueMessageParams struct {
	Recipient, GroupID string
	Plaintext          []byte
}

type GetConversationParams struct{ Peer string }

type CheckOfflineMessagesParams struct{ PublishAcks bool }

type GetGroupInfoParams struct{ GroupID string }

type CreateGroupParams struct {
	Name    string
	Members []string
}

type SendGroupMessageParams struct {
	GroupID, MessageType string
	Plaintext            []byte
}

type AddGroupMemberParams struct{ GroupID, Fingerprint string }

type RemoveGroupMemberParams struct{ GroupID, Fingerprint string }

type ListWalletsParams struct{ MasterSeed []byte }

type GetBalancesParams struct {
	Chain   types.WalletChain
	Address string
}

type SendTokensParams struct {
	Chain                                        types.WalletChain
	MasterSeed                                   []byte
	Index                                        int
	Recipient, Amount, Token, Network, GasSpeed string
}

type GetTransactionsParams struct {
	Chain   types.WalletChain
	Address string
}

type GetProfileParams struct{ Fingerprint string }

type UpdateProfileParams struct {
	RegisteredName                 string
	SigningPub, EncPub, SigningPriv []byte
}

type GetFeedParams struct{ Author string }

type PostFeedItemParams struct{ Body string }

// registerTaskHandlers binds one taskqueue.Handler per types.TaskType,
// each type-asserting task.Params and invoking the matching handler
// method, then reporting its outcome through task.Callback (spec.md
// §4.4, §4.6). Every handler guarantees exactly one callback invocation.
func (e *Engine) registerTaskHandlers() {
	reg := e.tasks.RegisterHandler

	reg(types.TaskCreateIdentity, func(_ context.Context, task *types.Task) {
		p := task.Params.(CreateIdentityParams)
		fp, err := e.identity.Create(p.Name, p.SigningSeed, p.EncSeed, p.MasterSeed, p.Mnemonic, p.Password)
		reply(task, fp, err)
	})

	reg(types.TaskLoadIdentity, func(_ context.Context, task *types.Task) {
		p := task.Params.(LoadIdentityParams)
		err := e.LoadIdentity(p.Fingerprint, p.Password, p.Minimal)
		reply(task, p.Fingerprint, err)
	})

	reg(types.TaskDeleteIdentity, func(_ context.Context, task *types.Task) {
		p := task.Params.(DeleteIdentityParams)
		err := e.identity.Delete(p.Fingerprint)
		reply(task, nil, err)
	})

	reg(types.TaskGetContacts, func(_ context.Context, task *types.Task) {
		out, err := e.contacts.List()
		reply(task, out, err)
	})

	reg(types.TaskAddContact, func(_ context.Context, task *types.Task) {
		p := task.Params.(AddContactParams)
		err := e.contacts.Add(p.Identifier)
		reply(task, nil, err)
	})

	reg(types.TaskRemoveContact, func(_ context.Context, task *types.Task) {
		p := task.Params.(RemoveContactParams)
		err := e.contacts.Remove(p.Fingerprint)
		reply(task, nil, err)
	})

	reg(types.TaskSendContactRequest, func(_ context.Context, task *types.Task) {
		p := task.Params.(SendContactRequestParams)
		err := e.contacts.SendRequest(e.getSelf(), p.Recipient, p.Message, p.Notes, p.Sign)
		reply(task, nil, err)
	})

	reg(types.TaskApproveContactReq, func(_ context.Context, task *types.Task) {
		p := task.Params.(ApproveContactRequestParams)
		reciprocal, err := e.contacts.Approve(p.Request)
		if err == nil {
			err = e.contacts.SendRequest(e.getSelf(), p.Request.FromFingerprint, reciprocal, "", p.Sign)
		}
		reply(task, reciprocal, err)
	})

	reg(types.TaskSendMessage, func(_ context.Context, task *types.Task) {
		p := task.Params.(SendMessageParams)
		msg, err := e.messaging.Send(p.Recipient, p.MessageType, p.Plaintext)
		reply(task, msg, err)
	})

	reg(types.TaskQueueMessage, func(_ context.Context, task *types.Task) {
		p := task.Params.(QueueMessageParams)
		slotID, err := e.sendqueue.Enqueue(p.Recipient, p.GroupID, p.Plaintext)
		reply(task, slotID, err)
	})

	reg(types.TaskGetConversation, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetConversationParams)
		out, err := e.messaging.Conversation(p.Peer)
		reply(task, out, err)
	})

	reg(types.TaskCheckOfflineMessages, func(_ context.Context, task *types.Task) {
		p := task.Params.(CheckOfflineMessagesParams)
		out, err := e.messaging.CheckOffline(p.PublishAcks)
		reply(task, out, err)
	})

	reg(types.TaskGetGroups, func(_ context.Context, task *types.Task) {
		out, err := e.groups.List()
		reply(task, out, err)
	})

	reg(types.TaskGetGroupInfo, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetGroupInfoParams)
		out, err := e.groups.Info(p.GroupID)
		reply(task, out, err)
	})

	reg(types.TaskCreateGroup, func(_ context.Context, task *types.Task) {
		p := task.Params.(CreateGroupParams)
		out, err := e.groups.Create(p.Name, p.Members)
		reply(task, out, err)
	})

	reg(types.TaskSendGroupMessage, func(_ context.Context, task *types.Task) {
		p := task.Params.(SendGroupMessageParams)
		out, err := e.groups.SendMessage(p.GroupID, p.MessageType, p.Plaintext)
		reply(task, out, err)
	})

	reg(types.TaskAddGroupMember, func(_ context.Context, task *types.Task) {
		p := task.Params.(AddGroupMemberParams)
		err := e.groups.AddMember(p.GroupID, p.Fingerprint)
		reply(task, nil, err)
	})

	reg(types.TaskRemoveGroupMember, func(_ context.Context, task *types.Task) {
		p := task.Params.(RemoveGroupMemberParams)
		err := e.groups.RemoveMember(e.getSelf(), p.GroupID, p.Fingerprint)
		reply(task, nil, err)
	})

	reg(types.TaskListWallets, func(_ context.Context, task *types.Task) {
		p := task.Params.(ListWalletsParams)
		out, err := e.wallet.List(p.MasterSeed)
		reply(task, out, err)
	})

	reg(types.TaskGetBalances, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetBalancesParams)
		out, err := e.wallet.Balance(p.Chain, p.Address)
		reply(task, out, err)
	})

	reg(types.TaskSendTokens, func(_ context.Context, task *types.Task) {
		p := task.Params.(SendTokensParams)
		out, err := e.wallet.Send(p.Chain, p.MasterSeed, p.Index, p.Recipient, p.Amount, p.Token, p.Network, p.GasSpeed)
		reply(task, out, err)
	})

	reg(types.TaskGetTransactions, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetTransactionsParams)
		out, err := e.wallet.Transactions(p.Chain, p.Address)
		reply(task, out, err)
	})

	reg(types.TaskGetProfile, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetProfileParams)
		out, err := e.profile.Get(p.Fingerprint)
		reply(task, out, err)
	})

	reg(types.TaskUpdateProfile, func(_ context.Context, task *types.Task) {
		p := task.Params.(UpdateProfileParams)
		err := e.profile.Update(p.RegisteredName, p.SigningPub, p.EncPub, p.SigningPriv)
		reply(task, nil, err)
	})

	reg(types.TaskBackupMessages, func(_ context.Context, task *types.Task) {
		var last handlers.SyncProgress
		e.backup.BackupMessages(func(p handlers.SyncProgress) { last = p })
		reply(task, last, last.Err)
	})

	reg(types.TaskRestoreMessages, func(_ context.Context, task *types.Task) {
		var last handlers.SyncProgress
		e.backup.RestoreMessages(func(p handlers.SyncProgress) { last = p })
		reply(task, last, last.Err)
	})

	reg(types.TaskSyncAddressbook, func(_ context.Context, task *types.Task) {
		var last handlers.SyncProgress
		e.backup.SyncAddressbook(func(p handlers.SyncProgress) { last = p })
		reply(task, last, last.Err)
	})

	reg(types.TaskGetFeed, func(_ context.Context, task *types.Task) {
		p := task.Params.(GetFeedParams)
		out, err := e.feed.Get(p.Author)
		reply(task, out, err)
	})

	reg(types.TaskPostFeedItem, func(_ context.Context, task *types.Task) {
		p := task.Params.(PostFeedItemParams)
		out, err := e.feed.Post(p.Body)
		reply(task, out, err)
	})
}

// reply invokes task.Callback exactly once with value/err, translating a
// bare error into a Result the caller can branch on.
func reply(task *types.Task, value any, err error) {
	if task.Callback == nil {
		return
	}
	if err != nil {
		task.Callback(types.Result{Err: err})
		return
	}
	task.Callback(types.Result{Value: value})
}
