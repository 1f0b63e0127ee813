package daemon

import (
	"context"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/ingest"
	"github.com/matheus3301/threadline/internal/lock"
	"github.com/matheus3301/threadline/internal/logging"
	"github.com/matheus3301/threadline/internal/outbox"
	"github.com/matheus3301/threadline/internal/session"
	"github.com/matheus3301/threadline/internal/status"
	"github.com/matheus3301/threadline/internal/store"
	"github.com/matheus3301/threadline/internal/wa"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			bus.New[ingest.Inbound],
			bus.New[chatsdk.Event],
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			ingest.NewEngine,
			provideSender,
			provideHistoryService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName, "threadd"), p.SessionName)
}

func provideStateMachine(logger *zap.Logger) *status.SessionMachine {
	return status.NewSessionMachine(func(from, to status.State) {
		logger.Info("session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	})
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// process owning the session.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, logger)
}

func provideSender(db *store.DB, adapter *wa.Adapter, events *bus.Bus[chatsdk.Event], logger *zap.Logger) *outbox.Sender {
	identity := func() (string, string) { return adapter.SelfID(), adapter.SelfName() }
	return outbox.NewSender(db, adapter, events, identity, logger)
}

func provideHistoryService(
	p Params,
	db *store.DB,
	events *bus.Bus[chatsdk.Event],
	engine *ingest.Engine,
	sender *outbox.Sender,
	adapter *wa.Adapter,
	machine *status.SessionMachine,
	logger *zap.Logger,
) *api.HistoryService {
	return api.NewHistoryService(api.Deps{
		SessionName: p.SessionName,
		DB:          db,
		Events:      events,
		Engine:      engine,
		Outbox:      sender,
		Network:     adapter,
		Machine:     machine,
		Logger:      logger,
	})
}

type lifecycleDeps struct {
	fx.In

	LC      fx.Lifecycle
	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Adapter *wa.Adapter
	Engine  *ingest.Engine
	Sender  *outbox.Sender
	Machine *status.SessionMachine
	Inbound *bus.Bus[ingest.Inbound]
	Logger  *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := d.Logger

	d.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start ingest engine (subscribes to the inbound bus).
			d.Engine.Start(ctx)

			// Register event handler for whatsmeow events.
			handler := wa.NewEventHandler(d.Inbound, d.Machine, d.Adapter, logger)
			d.Adapter.RegisterEventHandler(handler.Handle)
			d.Adapter.RegisterEventHandler(func(evt any) {
				if _, ok := evt.(*events.Connected); ok {
					go syncDirectory(ctx, d.DB, d.Adapter, logger)
				}
			})

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			d.Sender.Start(ctx)

			// Transition state based on auth status.
			if d.Adapter.IsLoggedIn() {
				_ = d.Machine.Transition(status.Connecting)
				go func() {
					if err := d.Adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = d.Machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = d.Machine.Transition(status.AuthRequired)
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Sender.Stop()
			d.Engine.Stop()
			d.Adapter.Disconnect()
			d.Server.Stop(stopCtx)
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// Directory is the subset of the adapter that knows contacts and LID aliases.
type Directory interface {
	Participants(ctx context.Context) []store.Participant
	Aliases(ctx context.Context) []store.Alias
}

// syncDirectory copies contacts and LID aliases into the store and folds
// conversations recorded under an alias into their canonical id.
func syncDirectory(ctx context.Context, db *store.DB, dir Directory, logger *zap.Logger) {
	participants := dir.Participants(ctx)
	for i := range participants {
		if err := db.UpsertParticipant(&participants[i]); err != nil {
			logger.Warn("participant upsert failed", zap.String("id", participants[i].ID), zap.Error(err))
		}
	}
	if err := db.SyncAliases(dir.Aliases(ctx)); err != nil {
		logger.Warn("alias sync failed", zap.Error(err))
		return
	}
	merged, err := db.ReconcileAliases()
	if err != nil {
		logger.Warn("alias reconcile failed", zap.Error(err))
		return
	}
	logger.Info("directory synced", zap.Int("participants", len(participants)), zap.Int64("merged", merged))
}
