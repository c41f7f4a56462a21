package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/predictions/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, models.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// InsertMarket archives a newly created market
func (db *DB) InsertMarket(ctx context.Context, m models.MarketSnapshot) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO markets (id, question, status, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		m.ID, m.Question, string(m.Status), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert market: %w", err)
	}
	return nil
}

// InsertTrades archives trades in one round trip. Trades already stored are
// skipped so replays are harmless.
func (db *DB) InsertTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO trades (market_id, seq, buyer_id, seller_id, buy_order_id, sell_order_id, amount, price, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
			ON CONFLICT (market_id, seq) DO NOTHING`,
			t.MarketID, int64(t.Seq), t.BuyerID, t.SellerID, t.BuyOrderID, t.SellOrderID, t.Amount, t.Price.String(), t.ExecutedAt)
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}
	return nil
}

// RecordResolution marks a market resolved and stores every trader's final
// balance in a single transaction. The market row is created from the
// snapshot if its creation was never archived.
func (db *DB) RecordResolution(ctx context.Context, market models.MarketSnapshot, outcome decimal.Decimal, balances map[string]decimal.Decimal, resolvedAt time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO markets (id, question, status, outcome, created_at, resolved_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, outcome = EXCLUDED.outcome, resolved_at = EXCLUDED.resolved_at`,
		market.ID, market.Question, string(models.StatusResolved), outcome.String(), market.CreatedAt, resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve market: %w", err)
	}

	for userID, balance := range balances {
		_, err := tx.Exec(ctx,
			"INSERT INTO settlements (market_id, user_id, final_balance) VALUES ($1, $2, $3::numeric) ON CONFLICT (market_id, user_id) DO UPDATE SET final_balance = EXCLUDED.final_balance",
			market.ID, userID, balance.String())
		if err != nil {
			return fmt.Errorf("failed to insert settlement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMarketTrades retrieves the archived trades of a market in execution order
func (db *DB) GetMarketTrades(ctx context.Context, marketID string) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT market_id, seq, buyer_id, seller_id, buy_order_id, sell_order_id, amount, price::text, executed_at
		FROM trades
		WHERE market_id = $1
		ORDER BY seq ASC
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get market trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			trade models.Trade
			seq   int64
			price string
		)
		err := rows.Scan(
			&trade.MarketID,
			&seq,
			&trade.BuyerID,
			&trade.SellerID,
			&trade.BuyOrderID,
			&trade.SellOrderID,
			&trade.Amount,
			&price,
			&trade.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trade.Seq = uint64(seq)
		if trade.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse trade price: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// GetSettlements retrieves the final balances recorded for a resolved market
func (db *DB) GetSettlements(ctx context.Context, marketID string) (map[string]decimal.Decimal, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT user_id, final_balance::text FROM settlements WHERE market_id = $1", marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlements: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var userID, balance string
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		d, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance: %w", err)
		}
		balances[userID] = d
	}
	return balances, rows.Err()
}
