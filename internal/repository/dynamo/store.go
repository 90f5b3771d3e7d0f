package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/models"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sortKeyLayout keeps transaction sort keys lexically ordered by time.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

//go:generate mockery --name Client --output ./mocks

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements repository.Store with optimistic concurrency: every
// wallet carries a version, and a scope commits all of its writes in one
// TransactWriteItems call conditioned on the versions it read.
type Store struct {
	Client                Client
	WalletsTableName      string
	TransactionsTableName string
	UsersTableName        string
	logger                *slog.Logger
}

func New(client Client, walletsTable, transactionsTable, usersTable string, logger *slog.Logger) *Store {
	return &Store{
		Client:                client,
		WalletsTableName:      walletsTable,
		TransactionsTableName: transactionsTable,
		UsersTableName:        usersTable,
		logger:                logger,
	}
}

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

type walletItem struct {
	OwnerID   string            `dynamodbav:"owner_id"`
	Balances  map[string]string `dynamodbav:"balances"`
	Version   int64             `dynamodbav:"version"`
	CreatedAt time.Time         `dynamodbav:"created_at"`
	UpdatedAt time.Time         `dynamodbav:"updated_at"`
}

type transactionItem struct {
	UserID             string    `dynamodbav:"user_id"`
	SortKey            string    `dynamodbav:"sk"`
	ID                 string    `dynamodbav:"id"`
	Type               string    `dynamodbav:"type"`
	Direction          string    `dynamodbav:"direction"`
	Amount             string    `dynamodbav:"amount"`
	Currency           string    `dynamodbav:"currency"`
	CounterpartyUserID string    `dynamodbav:"counterparty_user_id,omitempty"`
	CreatedAt          time.Time `dynamodbav:"created_at"`
}

type userItem struct {
	ID       string `dynamodbav:"id"`
	Username string `dynamodbav:"username"`
	Email    string `dynamodbav:"email"`
}

func (s *Store) Begin(ctx context.Context) (repository.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scope{store: s}, nil
}

func (s *Store) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.WalletsTableName),
		Key:            walletKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, repository.ErrWalletNotFound
	}

	var item walletItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet: %w", err)
	}
	return item.toModel()
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.TransactionsTableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID.String()},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	out := []models.Transaction{}
	paginator := dynamodb.NewQueryPaginator(s.Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query transactions by user ID: %w", err)
		}
		var items []transactionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
		}
		for _, item := range items {
			tx, err := item.toModel()
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Store) LookupUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.UserSummary, error) {
	out := make(map[uuid.UUID]models.UserSummary, len(ids))
	for start := 0; start < len(ids); start += 100 {
		end := min(start+100, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: id.String()},
			})
		}
		request := map[string]types.KeysAndAttributes{
			s.UsersTableName: {Keys: keys},
		}
		for attempt := 0; attempt < 3 && len(request) > 0; attempt++ {
			result, err := s.Client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("failed to batch get users: %w", err)
			}
			var users []userItem
			if err := attributevalue.UnmarshalListOfMaps(result.Responses[s.UsersTableName], &users); err != nil {
				return nil, fmt.Errorf("failed to unmarshal users: %w", err)
			}
			for _, u := range users {
				id, err := uuid.Parse(u.ID)
				if err != nil {
					continue
				}
				out[id] = models.UserSummary{ID: id, Username: u.Username, Email: u.Email}
			}
			request = result.UnprocessedKeys
		}
	}
	return out, nil
}

type scope struct {
	store *Store
	items []types.TransactWriteItem
	done  bool
}

func (sc *scope) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return sc.store.GetWallet(ctx, userID)
}

func (sc *scope) SaveWallet(_ context.Context, wallet *models.Wallet) error {
	item := fromWallet(wallet)
	item.Version = wallet.Version + 1
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}

	put := &types.Put{
		TableName: aws.String(sc.store.WalletsTableName),
		Item:      av,
	}
	if wallet.Version == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(owner_id)")
	} else {
		put.ConditionExpression = aws.String("version = :version")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", wallet.Version)},
		}
	}
	sc.items = append(sc.items, types.TransactWriteItem{Put: put})
	wallet.Version++
	return nil
}

func (sc *scope) AppendTransaction(_ context.Context, tx *models.Transaction) error {
	av, err := attributevalue.MarshalMap(fromTransaction(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	sc.items = append(sc.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(sc.store.TransactionsTableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(sk)"),
		},
	})
	return nil
}

func (sc *scope) Commit(ctx context.Context) error {
	if sc.done {
		return fmt.Errorf("scope already closed")
	}
	sc.done = true
	if len(sc.items) == 0 {
		return nil
	}

	_, err := sc.store.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: sc.items,
	})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			code := aws.ToString(reason.Code)
			if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
				return fmt.Errorf("%w: %w", repository.ErrConflict, err)
			}
		}
	}
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %w", repository.ErrConflict, err)
	}
	sc.store.logger.Error("Failed to execute transaction", slog.Any("err", err))
	return fmt.Errorf("failed to execute transaction: %w", err)
}

func (sc *scope) Rollback(_ context.Context) error {
	sc.done = true
	sc.items = nil
	return nil
}

func walletKey(userID uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_id": &types.AttributeValueMemberS{Value: userID.String()},
	}
}

func fromWallet(w *models.Wallet) walletItem {
	balances := make(map[string]string, len(w.Currencies))
	for _, c := range w.Currencies {
		balances[c.Type] = c.Balance.String()
	}
	return walletItem{
		OwnerID:   w.OwnerID.String(),
		Balances:  balances,
		Version:   w.Version,
		CreatedAt: w.CreatedAt.UTC(),
		UpdatedAt: w.UpdatedAt.UTC(),
	}
}

func (item walletItem) toModel() (*models.Wallet, error) {
	ownerID, err := uuid.Parse(item.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet owner id %q: %w", item.OwnerID, err)
	}
	w := models.NewWallet(ownerID, item.CreatedAt)
	w.UpdatedAt = item.UpdatedAt
	w.Version = item.Version
	for currency, raw := range item.Balances {
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s balance %q: %w", currency, raw, err)
		}
		if err := w.UpdateBalance(currency, balance); err != nil {
			return nil, fmt.Errorf("invalid %s balance %q: %w", currency, raw, err)
		}
	}
	return w, nil
}

func fromTransaction(tx *models.Transaction) transactionItem {
	createdAt := tx.CreatedAt.UTC()
	item := transactionItem{
		UserID:    tx.UserID.String(),
		SortKey:   createdAt.Format(sortKeyLayout) + "#" + tx.ID.String(),
		ID:        tx.ID.String(),
		Type:      string(tx.Type),
		Direction: string(tx.Direction),
		Amount:    tx.Amount.String(),
		Currency:  tx.Currency,
		CreatedAt: createdAt,
	}
	if tx.CounterpartyUserID != nil {
		item.CounterpartyUserID = tx.CounterpartyUserID.String()
	}
	return item
}

func (item transactionItem) toModel() (models.Transaction, error) {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid transaction id %q: %w", item.ID, err)
	}
	userID, err := uuid.Parse(item.UserID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid transaction user id %q: %w", item.UserID, err)
	}
	amount, err := decimal.NewFromString(item.Amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid transaction amount %q: %w", item.Amount, err)
	}
	tx := models.Transaction{
		ID:        id,
		UserID:    userID,
		Type:      models.TransactionType(item.Type),
		Direction: models.Direction(item.Direction),
		Amount:    amount,
		Currency:  item.Currency,
		CreatedAt: item.CreatedAt,
	}
	if item.CounterpartyUserID != "" {
		cp, err := uuid.Parse(item.CounterpartyUserID)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("invalid counterparty id %q: %w", item.CounterpartyUserID, err)
		}
		tx.CounterpartyUserID = &cp
	}
	return tx, nil
}
