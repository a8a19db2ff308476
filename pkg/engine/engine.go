package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnaproject/dna-core/pkg/delivery"
	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/dispatch"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/keystore"
	"github.com/dnaproject/dna-core/pkg/listenermgr"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/presence"
	"github.com/dnaproject/dna-core/pkg/registry"
	"github.com/dnaproject/dna-core/pkg/sendqueue"
	"github.com/dnaproject/dna-core/pkg/stabilize"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/taskqueue"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Config is every collaborator and tunable Engine is built from. DataDir,
// DHT, Crypto and Store are required; the worker-pool and send-queue
// sizes fall back to spec.md's defaults when left zero.
type Config struct {
	DataDir string
	DHT     dhtfacade.Facade
	Crypto  pqcrypto.Suite
	Store   store.Store
	Chains  map[types.WalletChain]handlers.ChainClient

	TaskQueueCapacity      int
	MinWorkers, MaxWorkers int
	SendQueueCapacity      int
	SendQueueMaxCapacity   int
}

// Engine is the top-level Controller (spec.md §4.10): it owns the
// identity lock, every handler family, the listener manager, the
// delivery/presence/stabilization background systems, and the task
// queue those are all reached through.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	stateMu sync.Mutex
	state   types.EngineState

	selfMu sync.RWMutex
	self   string

	deps handlers.Deps

	identity  *handlers.Identity
	contacts  *handlers.Contacts
	messaging *handlers.Messaging
	groups    *handlers.Groups
	wallet    *handlers.Wallet
	profile   *handlers.Profile
	backup    *handlers.Backup
	feed      *handlers.Feed

	listeners  *listenermgr.Manager
	delivery   *delivery.Engine
	presence   *presence.Heartbeat
	sendqueue  *sendqueue.Queue
	stabilizer *stabilize.Coordinator
	dispatch   *dispatch.Dispatcher

	tasks    *taskqueue.Queue
	requests *registry.Registry

	ctx    context.Context
	cancel context.CancelFunc

	resumeWG     sync.WaitGroup
	shutdownOnce sync.Once
}

// New wires every collaborator together and starts the task queue's
// worker pool. No identity is loaded yet; call LoadIdentity before any
// identity-scoped operation.
func New(cfg Config) *Engine {
	if cfg.TaskQueueCapacity <= 0 {
		cfg.TaskQueueCapacity = taskqueue.DefaultCapacity
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 4
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 32
	}
	if cfg.SendQueueCapacity <= 0 {
		cfg.SendQueueCapacity = 64
	}
	if cfg.SendQueueMaxCapacity <= 0 {
		cfg.SendQueueMaxCapacity = 4096
	}

	e := &Engine{
		cfg:      cfg,
		logger:   log.WithComponent("engine"),
		state:    types.StateUnloaded,
		requests: registry.New(),
	}

	e.dispatch = dispatch.New()
	e.deps = handlers.Deps{
		Store:    cfg.Store,
		DHT:      cfg.DHT,
		Crypto:   cfg.Crypto,
		Keys:     keystore.New(cfg.DataDir),
		Dispatch: e.dispatch,
	}

	e.identity = handlers.NewIdentity(e.deps, cfg.DataDir)
	e.listeners = listenermgr.NewManager(cfg.DHT, cfg.Store, e.dispatch)
	e.contacts = handlers.NewContacts(e.deps, e.listeners)
	e.messaging = handlers.NewMessaging(e.deps)
	e.listeners.SetReceiver(e.messaging)
	e.groups = handlers.NewGroups(e.deps)
	e.wallet = handlers.NewWallet(e.deps, cfg.Chains)
	e.profile = handlers.NewProfile(e.deps, func(fp string) error { return e.contacts.Remove(fp) })
	e.backup = handlers.NewBackup(e.deps)
	e.feed = handlers.NewFeed(e.deps)

	e.delivery = delivery.NewEngine(cfg.Store, cfg.DHT, e.messaging)
	e.sendqueue = sendqueue.New(cfg.SendQueueCapacity, cfg.SendQueueMaxCapacity, e.submitSendQueueEntry)
	e.stabilizer = stabilize.New(cfg.DHT, &engineSyncer{e: e})

	e.tasks = taskqueue.New(cfg.TaskQueueCapacity)
	e.registerTaskHandlers()

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.tasks.Start(e.ctx, taskqueue.WorkerCount(cfg.MinWorkers, cfg.MaxWorkers))

	return e
}

// State reports the current lifecycle state.
func (e *Engine) State() types.EngineState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// OnEvent registers the single event-stream subscriber (spec.md §4.3,
// §6). Passing nil unregisters.
func (e *Engine) OnEvent(cb dispatch.Callback) {
	e.dispatch.Register(cb)
}

func (e *Engine) getSelf() string {
	e.selfMu.RLock()
	defer e.selfMu.RUnlock()
	return e.self
}

func (e *Engine) setSelf(fingerprint string) {
	e.selfMu.Lock()
	e.self = fingerprint
	e.selfMu.Unlock()
}

// submitSendQueueEntry is the sendqueue.SubmitFunc adapter: it turns a
// reserved slot into a fire-and-forget send task carrying the slot ID as
// user-data, per spec.md §4.11. The send_message task handler frees the
// slot on completion.
func (e *Engine) submitSendQueueEntry(entry *types.SendQueueEntry) {
	task := &types.Task{
		RequestID: e.requests.Next(),
		Type:      types.TaskSendMessage,
		Params: SendMessageParams{
			Recipient:   entry.Recipient,
			MessageType: "text",
			Plaintext:   entry.Plaintext,
		},
		UserData: entry.SlotID,
		Callback: func(types.Result) { e.sendqueue.Free(entry.SlotID) },
	}
	if err := e.tasks.Submit(task); err != nil {
		e.logger.Error().Err(err).Uint64("slot_id", entry.SlotID).Msg("failed to submit queued send task")
		e.sendqueue.Free(entry.SlotID)
	}
}

// engineSyncer implements stabilize.Syncer: best-effort contact/group/
// addressbook resync plus a pending-message retry, the background work
// spec.md §4.12 describes for stabilization and §4.10 describes for the
// resume thread and network_changed recovery alike.
type engineSyncer struct {
	e *Engine
}

func (s *engineSyncer) Sync(ctx context.Context) error {
	e := s.e
	self := e.getSelf()
	if self == "" {
		return nil
	}

	_ = e.listeners.StartContactRequestListener()

	contacts, err := e.cfg.Store.ListContacts()
	if err == nil {
		fingerprints := make([]string, len(contacts))
		for i, c := range contacts {
			fingerprints[i] = c.Fingerprint
		}
		if _, err := e.listeners.ListenAllContacts(ctx, fingerprints); err != nil {
			e.logger.Warn().Err(err).Msg("stabilization: listener fan-out did not fully complete")
		}
	}

	e.backup.SyncAddressbook(func(p handlers.SyncProgress) {
		if p.Err != nil {
			e.logger.Warn().Err(p.Err).Msg("stabilization: addressbook sync failed")
		}
	})

	if _, err := e.groups.List(); err != nil {
		e.logger.Warn().Err(err).Msg("stabilization: group resync failed")
	}

	e.delivery.RetryDue(time.Now())
	return nil
}
