package leave

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the engine. Zero values fall back to the defaults below.
type Options struct {
	// Entitlement seeds new balances. Defaults to DefaultEntitlement.
	Entitlement int

	// StoreTimeout bounds every individual store call. Zero disables it.
	StoreTimeout time.Duration

	// MaxApplyAttempts bounds conflict retries in Applier.Apply.
	MaxApplyAttempts int

	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration

	// MigrationConcurrency is the worker pool size for MigrationRunner.
	MigrationConcurrency int

	// Retention decides what happens to a removed employee's ledger.
	Retention RetentionPolicy

	// Now stamps transactions and new balances. Defaults to time.Now.
	Now func() time.Time
}

const (
	defaultMaxApplyAttempts     = 3
	defaultRetryBackoff         = 20 * time.Millisecond
	defaultMigrationConcurrency = 4
)

func (o Options) withDefaults() Options {
	if o.Entitlement <= 0 {
		o.Entitlement = DefaultEntitlement
	}
	if o.MaxApplyAttempts <= 0 {
		o.MaxApplyAttempts = defaultMaxApplyAttempts
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	} else if o.RetryBackoff == 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.MigrationConcurrency <= 0 {
		o.MigrationConcurrency = defaultMigrationConcurrency
	}
	if o.Retention == "" {
		o.Retention = RetainLedger
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// now returns the current time in UTC at microsecond precision, the finest
// precision every backend stores losslessly.
func (o Options) now() time.Time {
	return o.Now().UTC().Truncate(time.Microsecond)
}

// storeCtx derives the per-call context for one store operation.
func (o Options) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.StoreTimeout)
}

// newTransactionID returns a time-ordered UUIDv7 so that ID order matches
// creation order when timestamps tie.
func newTransactionID() TransactionID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return TransactionID(id.String())
}

// =============================================================================
// SERVICE - Wires all components over one store
// =============================================================================

// Service bundles the engine components that share a store and options.
type Service struct {
	Initializer *Initializer
	Balances    *BalanceReader
	History     *HistoryReader
	Applier     *Applier
	Migration   *MigrationRunner
	Lifecycle   *Lifecycle
}

// NewService builds every component. registry may be nil when the caller has
// no employee directory; migrations then scan nothing.
func NewService(store Store, registry Registry, opts Options, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()

	initializer := &Initializer{Store: store, Options: opts, Logger: logger.With().Str("component", "initializer").Logger()}
	svc := &Service{
		Initializer: initializer,
		Balances: &BalanceReader{
			Initializer: initializer,
			Logger:      logger.With().Str("component", "balance_reader").Logger(),
		},
		History: &HistoryReader{Store: store, Options: opts},
		Applier: &Applier{
			Store:       store,
			Initializer: initializer,
			Options:     opts,
			Logger:      logger.With().Str("component", "applier").Logger(),
		},
		Lifecycle: &Lifecycle{
			Initializer: initializer,
			Store:       store,
			Registry:    registry,
			Retention:   opts.Retention,
			Options:     opts,
			Logger:      logger.With().Str("component", "lifecycle").Logger(),
		},
	}

	var dir Directory = emptyDirectory{}
	if registry != nil {
		dir = registry
	}
	svc.Migration = &MigrationRunner{
		Directory:   dir,
		Initializer: initializer,
		Concurrency: opts.MigrationConcurrency,
		Options:     opts,
		Logger:      logger.With().Str("component", "migration").Logger(),
	}
	return svc
}

type emptyDirectory struct{}

func (emptyDirectory) ListEmployeeIDs(context.Context) ([]EmployeeID, error) {
	return nil, nil
}
