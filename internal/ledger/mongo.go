package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// settingsDocID is the fixed _id of the settings singleton document.
const settingsDocID = "bot_config"

// MongoStore is a Store backed by MongoDB. Multi-document operations
// (transfers, renames) run inside causally consistent transactions, so
// the deployment must be a replica set.
type MongoStore struct {
	client   *mongo.Client
	accounts *mongo.Collection
	logs     *mongo.Collection
	groups   *mongo.Collection
	settings *mongo.Collection
}

// NewMongoStore creates a store on top of a connected client
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		accounts: db.Collection("accounts"),
		logs:     db.Collection("transaction_log"),
		groups:   db.Collection("groups"),
		settings: db.Collection("settings"),
	}
}

// EnsureIndexes creates the secondary indexes when they do not exist yet
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "group_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to index accounts: %w", err)
	}
	_, err = s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index transaction log: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *MongoStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	account := &Account{}
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// CreateAccount inserts a new account
func (s *MongoStore) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	cloned := *account
	now := time.Now().UTC()
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = now
	}
	if cloned.LastUpdated.IsZero() {
		cloned.LastUpdated = now
	}

	_, err := s.accounts.InsertOne(ctx, &cloned)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &cloned, nil
}

// UpdateAccount applies a merge-patch and bumps version and stamp
func (s *MongoStore) UpdateAccount(ctx context.Context, id string, patch *AccountPatch) (*Account, error) {
	set := bson.M{"last_updated": time.Now().UTC()}
	if patch.FullName != nil {
		set["full_name"] = *patch.FullName
	}
	if patch.Phone != nil {
		set["phone"] = *patch.Phone
	}
	if patch.Username != nil {
		set["username"] = *patch.Username
	}
	if patch.Points != nil {
		set["points"] = *patch.Points
	}
	if patch.Role != nil {
		set["role"] = *patch.Role
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.GroupID != nil {
		set["group_id"] = *patch.GroupID
	}

	account := &Account{}
	err := s.accounts.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// DeleteAccount removes an account permanently
func (s *MongoStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.accounts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccounts returns accounts matching the filter, ordered by ID
func (s *MongoStore) ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error) {
	if filter == nil {
		filter = &AccountFilter{}
	}

	query := bson.M{}
	if filter.Role != "" {
		query["role"] = filter.Role
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.GroupID != nil {
		query["group_id"] = *filter.GroupID
	}

	cursor, err := s.accounts.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	var accounts []*Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	return accounts, nil
}

// TransferPoints moves amount from sender to recipient, charging the
// sender amount plus commission, inside one transaction
func (s *MongoStore) TransferPoints(ctx context.Context, senderID, recipientID string, amount, commission int64) (*TransferResult, error) {
	if amount <= 0 || commission < 0 {
		return nil, ErrInvalidAmount
	}

	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		sender, err := s.requireAccount(sc, senderID)
		if err != nil {
			return nil, err
		}
		recipient, err := s.requireAccount(sc, recipientID)
		if err != nil {
			return nil, err
		}

		if sender.Status != StatusActive || recipient.Status != StatusActive {
			return nil, ErrAccountInactive
		}
		totalCost := amount + commission
		if sender.Points < totalCost {
			return nil, ErrInsufficientBalance
		}

		now := time.Now().UTC()
		if err := s.incrementPoints(sc, senderID, -totalCost, now); err != nil {
			return nil, fmt.Errorf("failed to debit sender: %w", err)
		}
		if err := s.incrementPoints(sc, recipientID, amount, now); err != nil {
			return nil, fmt.Errorf("failed to credit recipient: %w", err)
		}

		return &TransferResult{
			SenderBalance:    sender.Points - totalCost,
			RecipientBalance: recipient.Points + amount,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*TransferResult), nil
}

func (s *MongoStore) requireAccount(ctx context.Context, id string) (*Account, error) {
	account := &Account{}
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return account, nil
}

func (s *MongoStore) incrementPoints(ctx context.Context, id string, delta int64, now time.Time) error {
	_, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"points": delta, "version": 1}, "$set": bson.M{"last_updated": now}})
	return err
}

// AdjustBalance applies a signed delta to one account's balance
func (s *MongoStore) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	account := &Account{}
	err := s.accounts.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"points": delta, "version": 1}, "$set": bson.M{"last_updated": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return account.Points, nil
}

// CompareAndSwapBalance writes the balance only if the version still
// matches what the caller read
func (s *MongoStore) CompareAndSwapBalance(ctx context.Context, id string, expectedVersion, points int64) (*Account, error) {
	account := &Account{}
	err := s.accounts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{"$set": bson.M{"points": points, "last_updated": time.Now().UTC()}, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, countErr := s.accounts.CountDocuments(ctx, bson.M{"_id": id})
		if countErr != nil {
			return nil, fmt.Errorf("failed to probe account: %w", countErr)
		}
		if count == 0 {
			return nil, ErrAccountNotFound
		}
		return nil, ErrWriteConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to swap balance: %w", err)
	}
	return account, nil
}

// AppendLogEntry stores an audit record, assigning ID and timestamp
// when absent
func (s *MongoStore) AppendLogEntry(ctx context.Context, entry *LogEntry) (*LogEntry, error) {
	cloned := *entry
	if cloned.ID == "" {
		cloned.ID = uuid.NewString()
	}
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now().UTC()
	}
	if cloned.Status == "" {
		cloned.Status = "completed"
	}

	if _, err := s.logs.InsertOne(ctx, &cloned); err != nil {
		return nil, fmt.Errorf("failed to append log entry: %w", err)
	}
	return &cloned, nil
}

// ListLogEntries returns entries newest first, filtered and limited
func (s *MongoStore) ListLogEntries(ctx context.Context, filter *LogFilter) ([]*LogEntry, error) {
	if filter == nil {
		filter = &LogFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	query := bson.M{}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.AccountID != "" {
		query["$or"] = []bson.M{
			{"actor_id": filter.AccountID},
			{"sender_id": filter.AccountID},
			{"recipient_id": filter.AccountID},
			{"account_id": filter.AccountID},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	var entries []*LogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode log entries: %w", err)
	}
	return entries, nil
}

// CreateGroup inserts a new group record
func (s *MongoStore) CreateGroup(ctx context.Context, group *Group) (*Group, error) {
	cloned := *group
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now().UTC()
	}
	if cloned.Status == "" {
		cloned.Status = GroupActive
	}

	_, err := s.groups.InsertOne(ctx, &cloned)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrGroupExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return &cloned, nil
}

// GetGroup retrieves a group record by ID
func (s *MongoStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	group := &Group{}
	err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroups returns group records with the given status ("" = all),
// ordered by ID
func (s *MongoStore) ListGroups(ctx context.Context, status GroupStatus) ([]*Group, error) {
	query := bson.M{}
	if status != "" {
		query["status"] = status
	}

	cursor, err := s.groups.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	var groups []*Group
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	return groups, nil
}

// UpdateGroup applies a merge-patch to a group record
func (s *MongoStore) UpdateGroup(ctx context.Context, id string, patch *GroupPatch) (*Group, error) {
	set := bson.M{}
	if patch.DisplayName != nil {
		set["display_name"] = *patch.DisplayName
	}
	if patch.Hidden != nil {
		set["hidden"] = *patch.Hidden
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if len(set) == 0 {
		return s.GetGroup(ctx, id)
	}

	group := &Group{}
	err := s.groups.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return group, nil
}

// RenameGroup rewrites a group's identity and repoints every member
// account to the new name, inside one transaction. The _id is
// immutable in MongoDB, so the rename is insert-new plus delete-old.
func (s *MongoStore) RenameGroup(ctx context.Context, oldID, newID string) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		group := &Group{}
		err := s.groups.FindOne(sc, bson.M{"_id": oldID}).Decode(group)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrGroupNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read group: %w", err)
		}

		if group.DisplayName == group.ID {
			group.DisplayName = newID
		}
		group.ID = newID
		if _, err := s.groups.InsertOne(sc, group); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrGroupExists
			}
			return nil, fmt.Errorf("failed to insert renamed group: %w", err)
		}
		if _, err := s.groups.DeleteOne(sc, bson.M{"_id": oldID}); err != nil {
			return nil, fmt.Errorf("failed to remove old group: %w", err)
		}

		_, err = s.accounts.UpdateMany(sc,
			bson.M{"group_id": oldID},
			bson.M{"$set": bson.M{"group_id": newID, "last_updated": time.Now().UTC()}, "$inc": bson.M{"version": 1}})
		if err != nil {
			return nil, fmt.Errorf("failed to repoint accounts: %w", err)
		}
		return nil, nil
	})
	return err
}

// DeleteGroup removes a group record permanently
func (s *MongoStore) DeleteGroup(ctx context.Context, id string) error {
	result, err := s.groups.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GetSettings returns the singleton, creating it with defaults on
// first read
func (s *MongoStore) GetSettings(ctx context.Context) (*Settings, error) {
	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := s.settings.FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings applies a merge-patch to the singleton. Scalar fields
// use $set and statistics counters use $inc, so concurrent bumps never
// lose updates.
func (s *MongoStore) UpdateSettings(ctx context.Context, patch *SettingsPatch) (*Settings, error) {
	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}

	set := bson.M{}
	inc := bson.M{}
	if patch.CommissionRate != nil {
		set["commission_rate"] = *patch.CommissionRate
	}
	if patch.BotStatus != nil {
		set["bot_status"] = *patch.BotStatus
	}
	if patch.Maintenance != nil {
		set["maintenance"] = *patch.Maintenance
	}
	if patch.SyncEnabled != nil {
		set["sync_enabled"] = *patch.SyncEnabled
	}
	if patch.SyncInterval != nil {
		set["sync_interval"] = *patch.SyncInterval
	}
	if patch.AddTotalSyncs != 0 {
		inc["sync_statistics.total_syncs"] = patch.AddTotalSyncs
	}
	if patch.AddSuccessfulSyncs != 0 {
		inc["sync_statistics.successful_syncs"] = patch.AddSuccessfulSyncs
	}
	if patch.AddFailedSyncs != 0 {
		inc["sync_statistics.failed_syncs"] = patch.AddFailedSyncs
	}
	if patch.LastError != nil {
		set["sync_statistics.last_error"] = *patch.LastError
	}
	if patch.LastSyncTime != nil {
		set["sync_statistics.last_sync_time"] = *patch.LastSyncTime
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(update) == 0 {
		return s.GetSettings(ctx)
	}

	settings := &Settings{}
	err := s.settings.FindOneAndUpdate(ctx,
		bson.M{"_id": settingsDocID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return settings, nil
}

func (s *MongoStore) ensureSettings(ctx context.Context) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.M{"_id": settingsDocID},
		bson.M{"$setOnInsert": DefaultSettings()},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	return nil
}
