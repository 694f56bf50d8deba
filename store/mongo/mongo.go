/*
Package mongo implements leave.Store and leave.Registry on MongoDB.

COLLECTIONS:
  balances:     {employee_id (unique), total_entitlement, used, created_at_us}
  transactions: {_id: transaction id, employee_id, delta, reason, ts_us}
  employees:    {_id: employee id, registered_at}

ATOMICITY:
  CreateBalanceIfAbsent:
    FindOneAndUpdate(employee_id, $setOnInsert, upsert, return BEFORE).
    A null pre-image means this call inserted. Two simultaneous upserts can
    still collide on the unique index (E11000); the loser reads the winner.

  AppendTransaction:
    Multi-document transaction (requires a replica set):
      FindOneAndUpdate({employee_id, used: expected}, {$set: used}) -> none = conflict
      InsertOne(transaction)

TIMESTAMPS:
  Stored as int64 unix microseconds so (ts_us, _id) ordering is exact.
*/
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BalancesCollection     = "balances"
	TransactionsCollection = "transactions"
	EmployeesCollection    = "employees"
)

type balanceDoc struct {
	EmployeeID       string `bson:"employee_id"`
	TotalEntitlement int    `bson:"total_entitlement"`
	Used             int    `bson:"used"`
	CreatedAtUS      int64  `bson:"created_at_us"`
}

func (d balanceDoc) toBalance() leave.Balance {
	return leave.Balance{
		EmployeeID:       leave.EmployeeID(d.EmployeeID),
		TotalEntitlement: d.TotalEntitlement,
		Used:             d.Used,
		CreatedAt:        time.UnixMicro(d.CreatedAtUS).UTC(),
	}
}

type transactionDoc struct {
	ID          string `bson:"_id"`
	EmployeeID  string `bson:"employee_id"`
	Delta       int    `bson:"delta"`
	Reason      string `bson:"reason"`
	TimestampUS int64  `bson:"ts_us"`
}

// Store implements leave.Store and leave.Registry.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Open connects, pings the primary and creates the indexes.
func Open(ctx context.Context, cfg config.MongoDBConfig, logger zerolog.Logger) (*Store, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := New(client, client.Database(cfg.Database), logger)
	if err := s.EnsureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to MongoDB")
	return s, nil
}

// New wraps an existing client and database.
func New(client *mongo.Client, db *mongo.Database, logger zerolog.Logger) *Store {
	return &Store{client: client, db: db, logger: logger}
}

// EnsureIndexes creates the unique balance index and the history index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(BalancesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "employee_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_employee_id"),
	})
	if err != nil {
		return fmt.Errorf("failed to create balances index: %w", err)
	}

	_, err = s.db.Collection(TransactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "employee_id", Value: 1}, {Key: "ts_us", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("employee_history"),
	})
	if err != nil {
		return fmt.Errorf("failed to create transactions index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	s.logger.Info().Msg("closed MongoDB connection")
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, id leave.EmployeeID) (*leave.Balance, error) {
	var doc balanceDoc
	err := s.db.Collection(BalancesCollection).FindOne(ctx, bson.M{"employee_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("employee_id", string(id)).Msg("failed to get balance")
		return nil, leave.Unavailable("get balance", err)
	}
	b := doc.toBalance()
	return &b, nil
}

func (s *Store) CreateBalanceIfAbsent(ctx context.Context, id leave.EmployeeID, entitlement int, createdAt time.Time) (leave.Balance, bool, error) {
	fresh := balanceDoc{
		EmployeeID:       string(id),
		TotalEntitlement: entitlement,
		Used:             0,
		CreatedAtUS:      createdAt.UnixMicro(),
	}
	update := bson.M{"$setOnInsert": fresh}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)

	var existing balanceDoc
	err := s.db.Collection(BalancesCollection).
		FindOneAndUpdate(ctx, bson.M{"employee_id": string(id)}, update, opts).
		Decode(&existing)
	switch {
	case err == nil:
		return existing.toBalance(), false, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fresh.toBalance(), true, nil
	case mongo.IsDuplicateKeyError(err):
		b, err := s.GetBalance(ctx, id)
		if err != nil {
			return leave.Balance{}, false, err
		}
		if b == nil {
			return leave.Balance{}, false, leave.Unavailable("create balance", errors.New("balance vanished after conflict"))
		}
		return *b, false, nil
	default:
		return leave.Balance{}, false, leave.Unavailable("create balance", err)
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx leave.Transaction, expectedUsed int) (leave.Balance, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return leave.Balance{}, leave.Unavailable("start session", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		var doc balanceDoc
		err := s.db.Collection(BalancesCollection).FindOneAndUpdate(sc,
			bson.M{"employee_id": string(tx.EmployeeID), "used": expectedUsed},
			bson.M{"$set": bson.M{"used": expectedUsed + tx.Delta}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, leave.ErrConcurrentModification
		}
		if err != nil {
			return nil, err
		}

		_, err = s.db.Collection(TransactionsCollection).InsertOne(sc, transactionDoc{
			ID:          string(tx.ID),
			EmployeeID:  string(tx.EmployeeID),
			Delta:       tx.Delta,
			Reason:      tx.Reason,
			TimestampUS: tx.Timestamp.UnixMicro(),
		})
		if err != nil {
			return nil, err
		}
		return doc.toBalance(), nil
	})

	switch {
	case err == nil:
		return result.(leave.Balance), nil
	case errors.Is(err, leave.ErrConcurrentModification), mongo.IsDuplicateKeyError(err):
		return leave.Balance{}, leave.ErrConcurrentModification
	default:
		return leave.Balance{}, leave.Unavailable("append transaction", err)
	}
}

func (s *Store) ListTransactions(ctx context.Context, id leave.EmployeeID, after *leave.Cursor, limit int) ([]leave.Transaction, error) {
	filter := bson.M{"employee_id": string(id)}
	if after != nil {
		ts := after.Timestamp.UnixMicro()
		filter["$or"] = bson.A{
			bson.M{"ts_us": bson.M{"$gt": ts}},
			bson.M{"ts_us": ts, "_id": bson.M{"$gt": string(after.ID)}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "ts_us", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(TransactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, leave.Unavailable("find transactions", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, leave.Unavailable("decode transactions", err)
	}

	transactions := make([]leave.Transaction, 0, len(docs))
	for _, d := range docs {
		transactions = append(transactions, leave.Transaction{
			ID:         leave.TransactionID(d.ID),
			EmployeeID: leave.EmployeeID(d.EmployeeID),
			Delta:      d.Delta,
			Reason:     d.Reason,
			Timestamp:  time.UnixMicro(d.TimestampUS).UTC(),
		})
	}
	return transactions, nil
}

func (s *Store) DeleteEmployeeLedger(ctx context.Context, id leave.EmployeeID) error {
	if _, err := s.db.Collection(TransactionsCollection).DeleteMany(ctx, bson.M{"employee_id": string(id)}); err != nil {
		return leave.Unavailable("delete transactions", err)
	}
	if _, err := s.db.Collection(BalancesCollection).DeleteOne(ctx, bson.M{"employee_id": string(id)}); err != nil {
		return leave.Unavailable("delete balance", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (s *Store) RegisterEmployee(ctx context.Context, id leave.EmployeeID) error {
	_, err := s.db.Collection(EmployeesCollection).UpdateOne(ctx,
		bson.M{"_id": string(id)},
		bson.M{"$setOnInsert": bson.M{"registered_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return leave.Unavailable("register employee", err)
	}
	return nil
}

func (s *Store) RemoveEmployee(ctx context.Context, id leave.EmployeeID) error {
	if _, err := s.db.Collection(EmployeesCollection).DeleteOne(ctx, bson.M{"_id": string(id)}); err != nil {
		return leave.Unavailable("remove employee", err)
	}
	return nil
}

func (s *Store) ListEmployeeIDs(ctx context.Context) ([]leave.EmployeeID, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})

	cursor, err := s.db.Collection(EmployeesCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, leave.Unavailable("list employees", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, leave.Unavailable("decode employees", err)
	}

	ids := make([]leave.EmployeeID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, leave.EmployeeID(d.ID))
	}
	return ids, nil
}
