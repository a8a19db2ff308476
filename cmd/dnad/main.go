package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
	"github.com/dnaproject/dna-core/pkg/engine"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/keystore"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dnad",
	Short:   "dnad drives a single loaded identity's messenger engine",
	Version: Version,
	Long: `dnad loads one identity at a time and brokers create_identity,
contact, message, group, wallet, profile and feed operations through the
engine's async task pipeline.

A production DHT client and blockchain RPC clients are external
collaborators this binary does not implement; every command below runs
against the in-memory reference DHT facade, so state does not survive
past a single process unless another dnad process shares the same
facade in-process (see "dnad demo").`,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dnad version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./dnad-data", "Data directory for the local store and key material")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(contactCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// newSoloEngine builds an Engine backed by the in-memory DHT facade and a
// BoltStore rooted at dataDir, for commands that perform one action and
// exit. The facade is seeded ready with a plausible node count since
// there is no real routing table to observe in a single-shot process.
func newSoloEngine(dataDir string) (*engine.Engine, store.Store, error) {
	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	facade := memdht.New()
	facade.SetReady(true)
	facade.SetNodeCount(2)

	e := engine.New(engine.Config{
		DataDir: dataDir,
		DHT:     facade,
		Crypto:  pqcrypto.NewClassicalSuite(),
		Store:   st,
		Chains:  map[types.WalletChain]handlers.ChainClient{},
	})
	return e, st, nil
}

// submitSync runs an async task to completion and returns its Result,
// the blocking-caller shape every one-shot CLI command needs on top of
// Engine.Submit's fire-and-forget callback contract.
func submitSync(e *engine.Engine, taskType types.TaskType, params any) (any, error) {
	resultCh := make(chan types.Result, 1)
	e.Submit(taskType, params, nil, func(r types.Result) { resultCh <- r })
	r := <-resultCh
	return r.Value, r.Err
}

func loadIdentityOrExit(e *engine.Engine, fingerprint, password string, minimal bool) error {
	if err := e.LoadIdentity(fingerprint, password, minimal); err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	return nil
}

// Identity commands.

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Create, load, and delete the local identity",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Generate a mnemonic, derive keys, and register NAME on the DHT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		password, _ := cmd.Flags().GetString("password")

		e, st, err := newSoloEngine(dataDir)
		if err != nil {
			return err
		}
		defer func() { _ = st.(*store.BoltStore).Close() }()
		defer e.Shutdown()

		suite := pqcrypto.NewClassicalSuite()
		mnemonic, err := suite.Mnemonic.Generate()
		if err != nil {
			return fmt.Errorf("generate mnemonic: %w", err)
		}
		masterSeed := suite.Mnemonic.Seed(mnemonic, password)
		signingSeed := suite.Mnemonic.Seed(mnemonic, password+":signing")
		encSeed := suite.Mnemonic.Seed(mnemonic, password+":encryption")

		value, err := submitSync(e, types.TaskCreateIdentity, engine.CreateIdentityParams{
			Name:        args[0],
			SigningSeed: signingSeed,
			EncSeed:     encSeed,
			MasterSeed:  masterSeed,
			Mnemonic:    mnemonic,
			Password:    password,
		})
		if err != nil {
			return fmt.Errorf("create identity: %w", err)
		}

		fmt.Printf("Identity created: %s\n", args[0])
		fmt.Printf("  Fingerprint: %s\n", value.(string))
		fmt.Println()
		fmt.Println("Recovery mnemonic (write this down; the only other copy is mnemonic.enc in the data directory):")
		fmt.Printf("  %s\n", mnemonic)
		return nil
	},
}

var identityLoadCmd = &cobra.Command{
	Use:   "load FINGERPRINT",
	Short: "Load an identity and print its engine state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		password, _ := cmd.Flags().GetString("password")
		minimal, _ := cmd.Flags().GetBool("minimal")

		e, st, err := newSoloEngine(dataDir)
		if err != nil {
			return err
		}
		defer func() { _ = st.(*store.BoltStore).Close() }()
		defer e.Shutdown()

		if err := loadIdentityOrExit(e, args[0], password, minimal); err != nil {
			return err
		}
		fmt.Printf("Identity loaded, engine state: %s\n", e.State())
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityCreateCmd, identityLoadCmd)
	identityCreateCmd.Flags().String("password", "", "Optional password protecting the key store")
	identityLoadCmd.Flags().String("password", "", "Password protecting the key store, if set")
	identityLoadCmd.Flags().Bool("minimal", false, "Skip starting listeners, presence, and stabilization")
}

// Contact commands.

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage contacts for the loaded identity",
}

func withLoadedEngine(cmd *cobra.Command, fingerprint, password string, fn func(e *engine.Engine) error) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	e, st, err := newSoloEngine(dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = st.(*store.BoltStore).Close() }()
	defer e.Shutdown()

	if err := loadIdentityOrExit(e, fingerprint, password, true); err != nil {
		return err
	}
	return fn(e)
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskGetContacts, nil)
			if err != nil {
				return err
			}
			contacts := value.([]*handlers.ContactDisplay)
			if len(contacts) == 0 {
				fmt.Println("No contacts")
				return nil
			}
			for _, c := range contacts {
				fmt.Printf("%-20s %-40s online=%v\n", c.DisplayName, c.Fingerprint, c.Online)
			}
			return nil
		})
	},
}

var contactAddCmd = &cobra.Command{
	Use:   "add IDENTIFIER",
	Short: "Add a contact by fingerprint or registered name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			_, err := submitSync(e, types.TaskAddContact, engine.AddContactParams{Identifier: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("Contact added: %s\n", args[0])
			return nil
		})
	},
}

var contactRemoveCmd = &cobra.Command{
	Use:   "remove CONTACT_FINGERPRINT",
	Short: "Remove a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			_, err := submitSync(e, types.TaskRemoveContact, engine.RemoveContactParams{Fingerprint: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("Contact removed: %s\n", args[0])
			return nil
		})
	},
}

func init() {
	contactCmd.AddCommand(contactListCmd, contactAddCmd, contactRemoveCmd)
	for _, cmd := range []*cobra.Command{contactListCmd, contactAddCmd, contactRemoveCmd} {
		cmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
		cmd.Flags().String("password", "", "Password protecting the key store, if set")
		_ = cmd.MarkFlagRequired("fingerprint")
	}
}

// Message commands.

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send and inspect direct messages",
}

var messageSendCmd = &cobra.Command{
	Use:   "send RECIPIENT_FINGERPRINT BODY",
	Short: "Send a direct message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		msgType, _ := cmd.Flags().GetString("type")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskSendMessage, engine.SendMessageParams{
				Recipient:   args[0],
				MessageType: msgType,
				Plaintext:   []byte(args[1]),
			})
			if err != nil {
				return err
			}
			msg := value.(*types.OutgoingMessage)
			fmt.Printf("Message %s queued, status=%s\n", msg.ID, msg.Status)
			return nil
		})
	},
}

var messageConversationCmd = &cobra.Command{
	Use:   "conversation PEER_FINGERPRINT",
	Short: "Print a direct-message conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskGetConversation, engine.GetConversationParams{Peer: args[0]})
			if err != nil {
				return err
			}
			msgs := value.([]*types.OutgoingMessage)
			for _, m := range msgs {
				fmt.Printf("[%s] %s -> %s: %s (%s)\n", m.CreatedAt.Format(time.RFC3339), m.MessageType, m.Recipient, string(m.Plaintext), m.Status)
			}
			return nil
		})
	},
}

var messageOfflineCmd = &cobra.Command{
	Use:   "check-offline",
	Short: "Fetch new messages from every contact's outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		publishAcks, _ := cmd.Flags().GetBool("publish-acks")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskCheckOfflineMessages, engine.CheckOfflineMessagesParams{PublishAcks: publishAcks})
			if err != nil {
				return err
			}
			result := value.(*handlers.OfflineSyncResult)
			fmt.Printf("Updated contacts: %v\n", result.UpdatedContacts)
			return nil
		})
	},
}

func init() {
	messageCmd.AddCommand(messageSendCmd, messageConversationCmd, messageOfflineCmd)
	for _, cmd := range []*cobra.Command{messageSendCmd, messageConversationCmd, messageOfflineCmd} {
		cmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
		cmd.Flags().String("password", "", "Password protecting the key store, if set")
		_ = cmd.MarkFlagRequired("fingerprint")
	}
	messageSendCmd.Flags().String("type", "text", "Message type tag")
	messageOfflineCmd.Flags().Bool("publish-acks", true, "Publish ACKs for freshly synced messages")
}

// Group commands.

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create NAME MEMBER_FINGERPRINT...",
	Short: "Create a group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskCreateGroup, engine.CreateGroupParams{Name: args[0], Members: args[1:]})
			if err != nil {
				return err
			}
			g := value.(*types.Group)
			fmt.Printf("Group created: %s (%s), members=%v\n", g.Name, g.ID, g.Members)
			return nil
		})
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskGetGroups, nil)
			if err != nil {
				return err
			}
			for _, g := range value.([]*types.Group) {
				fmt.Printf("%-20s %-36s members=%d\n", g.Name, g.ID, len(g.Members))
			}
			return nil
		})
	},
}

var groupSendCmd = &cobra.Command{
	Use:   "send GROUP_ID BODY",
	Short: "Send a group message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskSendGroupMessage, engine.SendGroupMessageParams{
				GroupID: args[0], MessageType: "text", Plaintext: []byte(args[1]),
			})
			if err != nil {
				return err
			}
			msg := value.(*types.OutgoingMessage)
			fmt.Printf("Group message %s queued, status=%s\n", msg.ID, msg.Status)
			return nil
		})
	},
}

func init() {
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupSendCmd)
	for _, cmd := range []*cobra.Command{groupCreateCmd, groupListCmd, groupSendCmd} {
		cmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
		cmd.Flags().String("password", "", "Password protecting the key store, if set")
		_ = cmd.MarkFlagRequired("fingerprint")
	}
}

// Wallet commands.

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage derived chain wallets",
	Long: `Wallet commands require a chain RPC client, which is an external
collaborator this binary does not implement (spec.md §1). No chain
client is configured, so "wallet list" derives no wallets and prints
nothing.`,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "Derive and list wallets from the master seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			mat, err := keystore.New(filepath.Join(dataDir, fp)).Load(password)
			if err != nil {
				return fmt.Errorf("load mnemonic: %w", err)
			}
			pqcrypto.Zeroize(mat.SigningPrivateKey)
			pqcrypto.Zeroize(mat.EncryptionPrivateKey)
			suite := pqcrypto.NewClassicalSuite()
			masterSeed := suite.Mnemonic.Seed(string(mat.Mnemonic), password)
			pqcrypto.Zeroize(mat.Mnemonic)
			value, err := submitSync(e, types.TaskListWallets, engine.ListWalletsParams{MasterSeed: masterSeed})
			if err != nil {
				return err
			}
			for _, w := range value.([]*types.Wallet) {
				fmt.Printf("%-10s %s\n", w.Chain, w.Address)
			}
			return nil
		})
	},
}

func init() {
	walletCmd.AddCommand(walletListCmd)
	walletListCmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
	walletListCmd.Flags().String("password", "", "Password protecting the key store, if set")
	_ = walletListCmd.MarkFlagRequired("fingerprint")
}

// Profile commands.

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Get and update the registered-name profile",
}

var profileGetCmd = &cobra.Command{
	Use:   "get TARGET_FINGERPRINT",
	Short: "Fetch a profile, cache-first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskGetProfile, engine.GetProfileParams{Fingerprint: args[0]})
			if err != nil {
				return err
			}
			entry := value.(*store.ProfileCacheEntry)
			fmt.Printf("Registered name: %s\n", entry.RegisteredName)
			return nil
		})
	},
}

func init() {
	profileCmd.AddCommand(profileGetCmd)
	profileGetCmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
	profileGetCmd.Flags().String("password", "", "Password protecting the key store, if set")
	_ = profileGetCmd.MarkFlagRequired("fingerprint")
}

// Feed commands.

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Post and read the out-of-scope feed stub",
}

var feedPostCmd = &cobra.Command{
	Use:   "post BODY",
	Short: "Post a feed item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskPostFeedItem, engine.PostFeedItemParams{Body: args[0]})
			if err != nil {
				return err
			}
			item := value.(*handlers.FeedItem)
			fmt.Printf("Feed item posted: %s\n", item.ID)
			return nil
		})
	},
}

func init() {
	feedCmd.AddCommand(feedPostCmd)
	feedPostCmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
	feedPostCmd.Flags().String("password", "", "Password protecting the key store, if set")
	_ = feedPostCmd.MarkFlagRequired("fingerprint")
}

// Backup commands.

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup, restore, and sync state against the DHT",
}

var backupMessagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Push every local message to the DHT",
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		password, _ := cmd.Flags().GetString("password")
		return withLoadedEngine(cmd, fp, password, func(e *engine.Engine) error {
			value, err := submitSync(e, types.TaskBackupMessages, nil)
			if err != nil {
				return err
			}
			progress := value.(handlers.SyncProgress)
			fmt.Printf("Backed up %d messages\n", progress.Count)
			return nil
		})
	},
}

func init() {
	backupCmd.AddCommand(backupMessagesCmd)
	backupMessagesCmd.Flags().String("fingerprint", "", "Fingerprint of the identity to load (required)")
	backupMessagesCmd.Flags().String("password", "", "Password protecting the key store, if set")
	_ = backupMessagesCmd.MarkFlagRequired("fingerprint")
}

// run: the resident daemon mode. Loads one identity and keeps the
// engine's background loops (presence, delivery retry, stabilization)
// alive, serving metrics and health endpoints until interrupted, the
// same long-running shape as the teacher's "cluster init" command.
var runCmd = &cobra.Command{
	Use:   "run FINGERPRINT",
	Short: "Load an identity and keep the engine running until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		password, _ := cmd.Flags().GetString("password")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		e, st, err := newSoloEngine(dataDir)
		if err != nil {
			return err
		}
		defer func() { _ = st.(*store.BoltStore).Close() }()

		metrics.RegisterComponent("store", true, "ready")
		metrics.RegisterComponent("dht", true, "ready")
		metrics.RegisterComponent("engine", false, "loading identity")

		if err := loadIdentityOrExit(e, args[0], password, false); err != nil {
			return err
		}
		metrics.RegisterComponent("engine", true, "active")
		fmt.Printf("Identity loaded: %s\n", args[0])

		collector := metrics.NewCollector(e)
		collector.Start()
		defer collector.Stop()

		e.OnEvent(func(ev types.Event) {
			fmt.Printf("event: %s\n", ev.Type)
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("Health endpoints: http://%s/health, /ready, /live\n", metricsAddr)
		fmt.Println("Engine running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		e.Shutdown()
		fmt.Println("Shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("password", "", "Password protecting the key store, if set")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP endpoints")
}

// demo wires two in-memory identities against a single shared DHT
// facade in one process, exercising create_identity, the contact
// handshake, a direct message, and its delivery, without any external
// network. Grounded on the same memdht.Facade + BoltStore construction
// engine_test.go uses, run end to end instead of asserted against.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run two in-memory identities through a contact handshake and a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		facade := memdht.New()
		facade.SetReady(true)
		facade.SetNodeCount(2)

		alice, aliceStore, err := newDemoEngine(facade, "alice-data")
		if err != nil {
			return err
		}
		defer func() { _ = aliceStore.Close() }()
		defer alice.Shutdown()

		bob, bobStore, err := newDemoEngine(facade, "bob-data")
		if err != nil {
			return err
		}
		defer func() { _ = bobStore.Close() }()
		defer bob.Shutdown()

		suite := pqcrypto.NewClassicalSuite()

		aliceFP, err := createDemoIdentity(alice, suite, "alice")
		if err != nil {
			return fmt.Errorf("create alice: %w", err)
		}
		bobFP, err := createDemoIdentity(bob, suite, "bob")
		if err != nil {
			return fmt.Errorf("create bob: %w", err)
		}

		if err := loadIdentityOrExit(alice, aliceFP, "", false); err != nil {
			return err
		}
		if err := loadIdentityOrExit(bob, bobFP, "", false); err != nil {
			return err
		}
		fmt.Printf("alice: %s\nbob:   %s\n", aliceFP, bobFP)

		if _, err := submitSync(alice, types.TaskAddContact, engine.AddContactParams{Identifier: bobFP}); err != nil {
			return fmt.Errorf("alice add bob: %w", err)
		}
		if _, err := submitSync(bob, types.TaskAddContact, engine.AddContactParams{Identifier: aliceFP}); err != nil {
			return fmt.Errorf("bob add alice: %w", err)
		}
		fmt.Println("Contacts added on both sides.")

		value, err := submitSync(alice, types.TaskSendMessage, engine.SendMessageParams{
			Recipient:   bobFP,
			MessageType: "text",
			Plaintext:   []byte("hello from alice"),
		})
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		msg := value.(*types.OutgoingMessage)
		fmt.Printf("Message sent: %s (status=%s)\n", msg.ID, msg.Status)

		time.Sleep(100 * time.Millisecond)

		convValue, err := submitSync(bob, types.TaskGetConversation, engine.GetConversationParams{Peer: aliceFP})
		if err != nil {
			return fmt.Errorf("bob read conversation: %w", err)
		}
		msgs := convValue.([]*types.OutgoingMessage)
		fmt.Printf("Bob's view of the conversation with alice: %d message(s)\n", len(msgs))
		for _, m := range msgs {
			fmt.Printf("  %s: %s\n", m.MessageType, string(m.Plaintext))
		}
		return nil
	},
}

func newDemoEngine(facade dhtfacade.Facade, dataDir string) (*engine.Engine, *store.BoltStore, error) {
	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", dataDir, err)
	}
	e := engine.New(engine.Config{
		DataDir: dataDir,
		DHT:     facade,
		Crypto:  pqcrypto.NewClassicalSuite(),
		Store:   st,
		Chains:  map[types.WalletChain]handlers.ChainClient{},
	})
	return e, st, nil
}

func createDemoIdentity(e *engine.Engine, suite pqcrypto.Suite, name string) (string, error) {
	mnemonic, err := suite.Mnemonic.Generate()
	if err != nil {
		return "", err
	}
	masterSeed := suite.Mnemonic.Seed(mnemonic, "")
	signingSeed := suite.Mnemonic.Seed(mnemonic, ":signing")
	encSeed := suite.Mnemonic.Seed(mnemonic, ":encryption")

	value, err := submitSync(e, types.TaskCreateIdentity, engine.CreateIdentityParams{
		Name:        name,
		SigningSeed: signingSeed,
		EncSeed:     encSeed,
		MasterSeed:  masterSeed,
		Mnemonic:    mnemonic,
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}
