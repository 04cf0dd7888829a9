// Package database wraps a Postgres connection with the schema and query
// methods the core's services need. It follows the teacher's convention of
// a thin *DB handle over database/sql plus hand-written SQL rather than an
// ORM: every entity from spec §3 gets explicit CREATE TABLE IF NOT EXISTS
// DDL in initTables and a handful of purpose-built methods instead of a
// generic repository layer.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/instarelay/instacore/internal/logger"
)

// DB is the shared connection handle. A nil *DB is a valid "no database
// configured" state the way the teacher's Manager tolerates a nil config.
type DB struct {
	conn              *sql.DB
	encryptionManager *EncryptionManager
}

// New opens a Postgres connection, initializes the schema and returns the
// handle. dsn == "" returns (nil, nil): the caller is expected to treat a
// nil *DB as "persistence not configured" rather than erroring, mirroring
// the teacher's NewDB.
func New(dsn, tokenPassword string) (*DB, error) {
	if dsn == "" {
		return nil, nil
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	encryptionManager := NewEncryptionManager(tokenPassword)
	if encryptionManager != nil {
		logger.InfoMsg("Token encryption enabled")
	} else {
		logger.WarnMsg("No TOKEN_PASSWORD provided, card tokens and cookies will be stored unencrypted")
	}

	db := &DB{conn: conn, encryptionManager: encryptionManager}

	if err := db.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.InfoMsg("Database connection established successfully")
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if db != nil && db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tariffs (
		id SERIAL PRIMARY KEY,
		name VARCHAR(64) UNIQUE NOT NULL,
		price_cents BIGINT NOT NULL,
		duration_days BIGINT,
		quota_count BIGINT,
		is_demo BOOLEAN NOT NULL DEFAULT FALSE,
		auto_renewal BOOLEAN NOT NULL DEFAULT FALSE,
		next_tariff_id BIGINT REFERENCES tariffs(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		external_id VARCHAR(255) UNIQUE NOT NULL,
		current_tariff_id BIGINT REFERENCES tariffs(id),
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		subscription_start TIMESTAMP WITH TIME ZONE,
		subscription_end TIMESTAMP WITH TIME ZONE,
		remaining_requests BIGINT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id);

	CREATE TABLE IF NOT EXISTS instagram_profiles (
		id SERIAL PRIMARY KEY,
		username VARCHAR(255) UNIQUE NOT NULL,
		instagram_user_id VARCHAR(64) NOT NULL DEFAULT '',
		follower_count BIGINT NOT NULL DEFAULT 0,
		following_count BIGINT NOT NULL DEFAULT 0,
		media_count BIGINT NOT NULL DEFAULT 0,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		is_business BOOLEAN NOT NULL DEFAULT FALSE,
		bio TEXT NOT NULL DEFAULT '',
		analytics_json TEXT NOT NULL DEFAULT '{}',
		posts_json TEXT NOT NULL DEFAULT '[]',
		comments_json TEXT NOT NULL DEFAULT '[]',
		avatar_local_path TEXT NOT NULL DEFAULT '',
		parse_state VARCHAR(32) NOT NULL DEFAULT 'pending',
		parse_task_id VARCHAR(128) NOT NULL DEFAULT '',
		parse_error TEXT NOT NULL DEFAULT '',
		last_scraped TIMESTAMP WITH TIME ZONE,
		followers_parsed_at TIMESTAMP WITH TIME ZONE,
		followings_parsed_at TIMESTAMP WITH TIME ZONE,
		scrape_count BIGINT NOT NULL DEFAULT 0,
		is_data_fresh BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_username ON instagram_profiles(username);

	CREATE TABLE IF NOT EXISTS instagram_followers (
		id SERIAL PRIMARY KEY,
		profile_id BIGINT NOT NULL REFERENCES instagram_profiles(id) ON DELETE CASCADE,
		follower_pk VARCHAR(64) NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		is_private BOOLEAN NOT NULL DEFAULT FALSE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		avatar_url TEXT NOT NULL DEFAULT '',
		avatar_local_path TEXT NOT NULL DEFAULT '',
		kind VARCHAR(16) NOT NULL DEFAULT 'follower',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE(profile_id, follower_pk)
	);
	CREATE INDEX IF NOT EXISTS idx_followers_profile ON instagram_followers(profile_id);

	CREATE TABLE IF NOT EXISTS subscription_history (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		tariff_id BIGINT NOT NULL REFERENCES tariffs(id),
		original_tariff_id BIGINT REFERENCES tariffs(id),
		start TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		"end" TIMESTAMP WITH TIME ZONE,
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		auto_renewal BOOLEAN NOT NULL DEFAULT FALSE,
		gateway_subscription_id VARCHAR(255) NOT NULL DEFAULT '',
		card_token VARCHAR(255) NOT NULL DEFAULT '',
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		last_payment_attempt TIMESTAMP WITH TIME ZONE,
		paused_at TIMESTAMP WITH TIME ZONE,
		next_payment_date TIMESTAMP WITH TIME ZONE,
		downgrade_attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscription_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscription_history(status, auto_renewal, next_payment_date);

	CREATE TABLE IF NOT EXISTS payments (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		tariff_id BIGINT REFERENCES tariffs(id),
		subscription_id BIGINT REFERENCES subscription_history(id),
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		amount_cents BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL DEFAULT 'USD',
		method VARCHAR(32) NOT NULL DEFAULT '',
		external_txn_id VARCHAR(255) NOT NULL DEFAULT '',
		card_token VARCHAR(255) NOT NULL DEFAULT '',
		card_type VARCHAR(32) NOT NULL DEFAULT '',
		last_four VARCHAR(8) NOT NULL DEFAULT '',
		is_recurrent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_external_txn ON payments(external_txn_id) WHERE external_txn_id <> '';
	CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id);

	CREATE TABLE IF NOT EXISTS user_activities (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		activity_type VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		extra_json TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_activities_user_type ON user_activities(user_id, activity_type);

	CREATE TABLE IF NOT EXISTS notification_schedules (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		type VARCHAR(64) NOT NULL,
		scheduled_time TIMESTAMP WITH TIME ZONE NOT NULL,
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at TIMESTAMP WITH TIME ZONE,
		message TEXT NOT NULL DEFAULT '',
		button_text VARCHAR(255) NOT NULL DEFAULT '',
		button_url TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_due ON notification_schedules(sent, retry_count, scheduled_time);

	CREATE TABLE IF NOT EXISTS proxy_resources (
		id VARCHAR(64) PRIMARY KEY,
		proxy_url TEXT NOT NULL,
		cookie TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		usage_count BIGINT NOT NULL DEFAULT 0,
		last_used_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS usage_logs (
		id VARCHAR(64) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		operation VARCHAR(128) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	_, err := db.conn.Exec(query)
	return err
}

// ---- Tariffs ----

func (db *DB) GetTariffByName(name string) (*Tariff, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`SELECT id, name, price_cents, duration_days, quota_count, is_demo, auto_renewal, next_tariff_id FROM tariffs WHERE name = $1`, name)
	return scanTariff(row)
}

func (db *DB) GetTariffByID(id int64) (*Tariff, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`SELECT id, name, price_cents, duration_days, quota_count, is_demo, auto_renewal, next_tariff_id FROM tariffs WHERE id = $1`, id)
	return scanTariff(row)
}

func scanTariff(row *sql.Row) (*Tariff, error) {
	t := &Tariff{}
	err := row.Scan(&t.ID, &t.Name, &t.PriceCents, &t.DurationDays, &t.QuotaCount, &t.IsDemo, &t.AutoRenewal, &t.NextTariffID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tariff: %w", err)
	}
	return t, nil
}

// UpsertTariff inserts or updates a tariff by name; used to seed the fixed
// tariff table at startup.
func (db *DB) UpsertTariff(t *Tariff) (*Tariff, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		INSERT INTO tariffs (name, price_cents, duration_days, quota_count, is_demo, auto_renewal, next_tariff_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			price_cents = EXCLUDED.price_cents,
			duration_days = EXCLUDED.duration_days,
			quota_count = EXCLUDED.quota_count,
			is_demo = EXCLUDED.is_demo,
			auto_renewal = EXCLUDED.auto_renewal,
			next_tariff_id = EXCLUDED.next_tariff_id
		RETURNING id, name, price_cents, duration_days, quota_count, is_demo, auto_renewal, next_tariff_id
	`, t.Name, t.PriceCents, t.DurationDays, t.QuotaCount, t.IsDemo, t.AutoRenewal, t.NextTariffID)
	return scanTariff(row)
}

// ---- Users ----

func (db *DB) GetOrCreateUser(externalID string) (*User, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}

	if u, err := db.GetUserByExternalID(externalID); err != nil {
		return nil, err
	} else if u != nil {
		return u, nil
	}

	now := time.Now()
	row := db.conn.QueryRow(`
		INSERT INTO users (external_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, external_id, current_tariff_id, is_paid, subscription_start, subscription_end, remaining_requests, created_at, updated_at
	`, externalID, now)
	return scanUser(row)
}

func (db *DB) GetUserByExternalID(externalID string) (*User, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		SELECT id, external_id, current_tariff_id, is_paid, subscription_start, subscription_end, remaining_requests, created_at, updated_at
		FROM users WHERE external_id = $1
	`, externalID)
	return scanUser(row)
}

func (db *DB) GetUserByID(id int64) (*User, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		SELECT id, external_id, current_tariff_id, is_paid, subscription_start, subscription_end, remaining_requests, created_at, updated_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.ExternalID, &u.CurrentTariffID, &u.IsPaid, &u.SubscriptionStart, &u.SubscriptionEnd, &u.RemainingRequests, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUserSubscriptionState updates the denormalized subscription fields
// carried directly on users (current tariff, paid flag, window, quota).
func (db *DB) UpdateUserSubscriptionState(userID int64, tariffID *int64, isPaid bool, start, end *time.Time, remaining *int64) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE users SET current_tariff_id = $2, is_paid = $3, subscription_start = $4, subscription_end = $5, remaining_requests = $6, updated_at = $7
		WHERE id = $1
	`, userID, tariffID, isPaid, start, end, remaining, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update user subscription state: %w", err)
	}
	return nil
}

// ---- Instagram profiles ----

// ProfilePatch carries the fields an upsert is allowed to change; zero
// values are written as-is (callers populate only what they fetched).
type ProfilePatch struct {
	InstagramUserID string
	FollowerCount   int64
	FollowingCount  int64
	MediaCount      int64
	IsVerified      bool
	IsPrivate       bool
	IsBusiness      bool
	Bio             string
	AnalyticsJSON   string
	PostsJSON       string
	CommentsJSON    string
	AvatarLocalPath string
}

func (db *DB) GetProfileByUsername(username string) (*InstagramProfile, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(profileSelectQuery+` WHERE username = $1`, username)
	return scanProfile(row)
}

const profileSelectQuery = `
	SELECT id, username, instagram_user_id, follower_count, following_count, media_count,
		is_verified, is_private, is_business, bio, analytics_json, posts_json, comments_json,
		avatar_local_path, parse_state, parse_task_id, parse_error, last_scraped,
		followers_parsed_at, followings_parsed_at, scrape_count, is_data_fresh, created_at, updated_at
	FROM instagram_profiles
`

func scanProfile(row *sql.Row) (*InstagramProfile, error) {
	p := &InstagramProfile{}
	err := row.Scan(&p.ID, &p.Username, &p.InstagramUserID, &p.FollowerCount, &p.FollowingCount, &p.MediaCount,
		&p.IsVerified, &p.IsPrivate, &p.IsBusiness, &p.Bio, &p.AnalyticsJSON, &p.PostsJSON, &p.CommentsJSON,
		&p.AvatarLocalPath, &p.ParseState, &p.ParseTaskID, &p.ParseError, &p.LastScraped,
		&p.FollowersParsedAt, &p.FollowingsParsedAt, &p.ScrapeCount, &p.IsDataFresh, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpsertProfile merges patch into the row for username, stamps
// last_scraped := now, increments scrape_count and sets is_data_fresh :=
// true (§4.8). The row is created if absent.
func (db *DB) UpsertProfile(username string, patch ProfilePatch) (*InstagramProfile, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}

	now := time.Now()
	row := db.conn.QueryRow(`
		INSERT INTO instagram_profiles (
			username, instagram_user_id, follower_count, following_count, media_count,
			is_verified, is_private, is_business, bio, analytics_json, posts_json, comments_json,
			avatar_local_path, last_scraped, scrape_count, is_data_fresh, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, TRUE, $14, $14)
		ON CONFLICT (username) DO UPDATE SET
			instagram_user_id = CASE WHEN EXCLUDED.instagram_user_id <> '' THEN EXCLUDED.instagram_user_id ELSE instagram_profiles.instagram_user_id END,
			follower_count = EXCLUDED.follower_count,
			following_count = EXCLUDED.following_count,
			media_count = EXCLUDED.media_count,
			is_verified = EXCLUDED.is_verified,
			is_private = EXCLUDED.is_private,
			is_business = EXCLUDED.is_business,
			bio = CASE WHEN EXCLUDED.bio <> '' THEN EXCLUDED.bio ELSE instagram_profiles.bio END,
			analytics_json = CASE WHEN EXCLUDED.analytics_json <> '' THEN EXCLUDED.analytics_json ELSE instagram_profiles.analytics_json END,
			posts_json = CASE WHEN EXCLUDED.posts_json <> '' THEN EXCLUDED.posts_json ELSE instagram_profiles.posts_json END,
			comments_json = CASE WHEN EXCLUDED.comments_json <> '' THEN EXCLUDED.comments_json ELSE instagram_profiles.comments_json END,
			avatar_local_path = CASE WHEN EXCLUDED.avatar_local_path <> '' THEN EXCLUDED.avatar_local_path ELSE instagram_profiles.avatar_local_path END,
			last_scraped = EXCLUDED.last_scraped,
			scrape_count = instagram_profiles.scrape_count + 1,
			is_data_fresh = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING id, username, instagram_user_id, follower_count, following_count, media_count,
			is_verified, is_private, is_business, bio, analytics_json, posts_json, comments_json,
			avatar_local_path, parse_state, parse_task_id, parse_error, last_scraped,
			followers_parsed_at, followings_parsed_at, scrape_count, is_data_fresh, created_at, updated_at
	`, username, patch.InstagramUserID, patch.FollowerCount, patch.FollowingCount, patch.MediaCount,
		patch.IsVerified, patch.IsPrivate, patch.IsBusiness, patch.Bio, patch.AnalyticsJSON, patch.PostsJSON,
		patch.CommentsJSON, patch.AvatarLocalPath, now)

	return scanProfile(row)
}

// MarkProfileStale sets is_data_fresh := false without touching timestamps.
func (db *DB) MarkProfileStale(username string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`UPDATE instagram_profiles SET is_data_fresh = FALSE WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to mark profile stale: %w", err)
	}
	return nil
}

// SetParseStatus updates parse_state/parse_task_id, additionally stamping
// followers_parsed_at/followings_parsed_at when status is "completed"
// (§4.8).
func (db *DB) SetParseStatus(username, status, taskID string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}

	now := time.Now()
	if status == "completed" {
		_, err := db.conn.Exec(`
			UPDATE instagram_profiles
			SET parse_state = $2, parse_task_id = $3, followers_parsed_at = $4, followings_parsed_at = $4, parse_error = '', updated_at = $4
			WHERE username = $1
		`, username, status, taskID, now)
		if err != nil {
			return fmt.Errorf("failed to set parse status: %w", err)
		}
		return nil
	}

	_, err := db.conn.Exec(`
		UPDATE instagram_profiles SET parse_state = $2, parse_task_id = $3, updated_at = $4 WHERE username = $1
	`, username, status, taskID, now)
	if err != nil {
		return fmt.Errorf("failed to set parse status: %w", err)
	}
	return nil
}

// SetParseFailure transitions a profile to "failed" and records the error.
func (db *DB) SetParseFailure(username, errMsg string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE instagram_profiles SET parse_state = 'failed', parse_error = $2, updated_at = $3 WHERE username = $1
	`, username, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set parse failure: %w", err)
	}
	return nil
}

// SetProfileComments stores the aggregated comments JSON for a profile.
func (db *DB) SetProfileComments(username, commentsJSON string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE instagram_profiles SET comments_json = $2, updated_at = $3 WHERE username = $1
	`, username, commentsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set profile comments: %w", err)
	}
	return nil
}

// ---- Instagram followers ----

// UpsertFollower replaces-or-inserts keyed by (profile_id, follower_pk),
// per §4.6 step 5.
func (db *DB) UpsertFollower(profileID int64, f *InstagramFollower) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	now := time.Now()
	_, err := db.conn.Exec(`
		INSERT INTO instagram_followers (profile_id, follower_pk, username, full_name, is_private, is_verified, avatar_url, avatar_local_path, kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (profile_id, follower_pk) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = EXCLUDED.full_name,
			is_private = EXCLUDED.is_private,
			is_verified = EXCLUDED.is_verified,
			avatar_url = EXCLUDED.avatar_url,
			avatar_local_path = CASE WHEN EXCLUDED.avatar_local_path <> '' THEN EXCLUDED.avatar_local_path ELSE instagram_followers.avatar_local_path END,
			kind = EXCLUDED.kind,
			updated_at = EXCLUDED.updated_at
	`, profileID, f.FollowerPK, f.Username, f.FullName, f.IsPrivate, f.IsVerified, f.AvatarURL, f.AvatarLocalPath, f.Kind, now)
	if err != nil {
		return fmt.Errorf("failed to upsert follower: %w", err)
	}
	return nil
}

// SetFollowerAvatarPath writes the local avatar path back onto a follower
// row, used after a batch avatar download (§4.6 step 4).
func (db *DB) SetFollowerAvatarPath(profileID int64, followerPK, localPath string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE instagram_followers SET avatar_local_path = $3, updated_at = $4
		WHERE profile_id = $1 AND follower_pk = $2
	`, profileID, followerPK, localPath, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set follower avatar path: %w", err)
	}
	return nil
}

func (db *DB) ListFollowers(profileID int64, kind string) ([]*InstagramFollower, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	rows, err := db.conn.Query(`
		SELECT id, profile_id, follower_pk, username, full_name, is_private, is_verified, avatar_url, avatar_local_path, kind, created_at, updated_at
		FROM instagram_followers WHERE profile_id = $1 AND kind = $2
	`, profileID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list followers: %w", err)
	}
	defer rows.Close()

	var out []*InstagramFollower
	for rows.Next() {
		f := &InstagramFollower{}
		if err := rows.Scan(&f.ID, &f.ProfileID, &f.FollowerPK, &f.Username, &f.FullName, &f.IsPrivate, &f.IsVerified, &f.AvatarURL, &f.AvatarLocalPath, &f.Kind, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follower: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---- Payments ----

func (db *DB) CreatePayment(p *Payment) (*Payment, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		INSERT INTO payments (user_id, tariff_id, subscription_id, status, amount_cents, currency, method, external_txn_id, card_token, card_type, last_four, is_recurrent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, user_id, tariff_id, subscription_id, status, amount_cents, currency, method, external_txn_id, card_token, card_type, last_four, is_recurrent, created_at
	`, p.UserID, p.TariffID, p.SubscriptionID, p.Status, p.AmountCents, p.Currency, p.Method, p.ExternalTxnID, p.CardToken, p.CardType, p.LastFour, p.IsRecurrent, time.Now())
	return scanPayment(row)
}

func scanPayment(row *sql.Row) (*Payment, error) {
	p := &Payment{}
	err := row.Scan(&p.ID, &p.UserID, &p.TariffID, &p.SubscriptionID, &p.Status, &p.AmountCents, &p.Currency, &p.Method, &p.ExternalTxnID, &p.CardToken, &p.CardType, &p.LastFour, &p.IsRecurrent, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// GetPaymentByExternalTxnID supports the §7 idempotency rule: reprocessing
// a webhook with the same gateway transaction id must not create a
// duplicate row.
func (db *DB) GetPaymentByExternalTxnID(txnID string) (*Payment, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	if txnID == "" {
		return nil, nil
	}
	row := db.conn.QueryRow(`
		SELECT id, user_id, tariff_id, subscription_id, status, amount_cents, currency, method, external_txn_id, card_token, card_type, last_four, is_recurrent, created_at
		FROM payments WHERE external_txn_id = $1
	`, txnID)
	return scanPayment(row)
}

// FindCompletedPaymentWithToken backs activation idempotency (§4.10,
// §7): a (user, tariff) pair that already has a completed payment
// carrying a card token should be reused rather than re-charged.
func (db *DB) FindCompletedPaymentWithToken(userID, tariffID int64) (*Payment, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		SELECT id, user_id, tariff_id, subscription_id, status, amount_cents, currency, method, external_txn_id, card_token, card_type, last_four, is_recurrent, created_at
		FROM payments
		WHERE user_id = $1 AND tariff_id = $2 AND status = 'completed' AND card_token <> ''
		ORDER BY created_at DESC LIMIT 1
	`, userID, tariffID)
	return scanPayment(row)
}

// ---- Subscription history ----

func (db *DB) CreateSubscription(s *SubscriptionHistory) (*SubscriptionHistory, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		INSERT INTO subscription_history (
			user_id, tariff_id, original_tariff_id, start, "end", status, auto_renewal,
			gateway_subscription_id, card_token, failed_attempts, last_payment_attempt, paused_at,
			next_payment_date, downgrade_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id, user_id, tariff_id, original_tariff_id, start, "end", status, auto_renewal,
			gateway_subscription_id, card_token, failed_attempts, last_payment_attempt, paused_at,
			next_payment_date, downgrade_attempts, created_at, updated_at
	`, s.UserID, s.TariffID, s.OriginalTariffID, s.Start, s.End, s.Status, s.AutoRenewal,
		s.GatewaySubscriptionID, s.CardToken, s.FailedAttempts, s.LastPaymentAttempt, s.PausedAt,
		s.NextPaymentDate, s.DowngradeAttempts, time.Now())
	return scanSubscription(row)
}

const subscriptionSelectColumns = `
	id, user_id, tariff_id, original_tariff_id, start, "end", status, auto_renewal,
	gateway_subscription_id, card_token, failed_attempts, last_payment_attempt, paused_at,
	next_payment_date, downgrade_attempts, created_at, updated_at
`

func scanSubscription(row *sql.Row) (*SubscriptionHistory, error) {
	s := &SubscriptionHistory{}
	err := row.Scan(&s.ID, &s.UserID, &s.TariffID, &s.OriginalTariffID, &s.Start, &s.End, &s.Status, &s.AutoRenewal,
		&s.GatewaySubscriptionID, &s.CardToken, &s.FailedAttempts, &s.LastPaymentAttempt, &s.PausedAt,
		&s.NextPaymentDate, &s.DowngradeAttempts, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// GetActiveOrPausedSubscription enforces the §3/§8 invariant that a user
// has at most one row with status in {active, paused} by construction:
// every write path looks this up first instead of blindly inserting.
func (db *DB) GetActiveOrPausedSubscription(userID int64) (*SubscriptionHistory, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		SELECT `+subscriptionSelectColumns+`
		FROM subscription_history
		WHERE user_id = $1 AND status IN ('active', 'paused')
		ORDER BY created_at DESC LIMIT 1
	`, userID)
	return scanSubscription(row)
}

// UpdateSubscription persists every mutable field of s in one statement;
// callers load-mutate-save within a single logical operation (§5: "a
// single transaction per subscription").
func (db *DB) UpdateSubscription(s *SubscriptionHistory) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE subscription_history SET
			tariff_id = $2, original_tariff_id = $3, "end" = $4, status = $5, auto_renewal = $6,
			gateway_subscription_id = $7, card_token = $8, failed_attempts = $9, last_payment_attempt = $10,
			paused_at = $11, next_payment_date = $12, downgrade_attempts = $13, updated_at = $14
		WHERE id = $1
	`, s.ID, s.TariffID, s.OriginalTariffID, s.End, s.Status, s.AutoRenewal,
		s.GatewaySubscriptionID, s.CardToken, s.FailedAttempts, s.LastPaymentAttempt,
		s.PausedAt, s.NextPaymentDate, s.DowngradeAttempts, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ListDueRecurrent selects subscriptions eligible for a scheduler charge
// attempt (§4.11 step 1).
func (db *DB) ListDueRecurrent(now time.Time) ([]*SubscriptionHistory, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	rows, err := db.conn.Query(`
		SELECT `+subscriptionSelectColumns+`
		FROM subscription_history
		WHERE status = 'active' AND auto_renewal = TRUE AND card_token <> '' AND next_payment_date <= $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListPausedEligibleForResume selects paused subscriptions whose 7-day
// timer has elapsed (§4.11 step 2).
func (db *DB) ListPausedEligibleForResume(now time.Time) ([]*SubscriptionHistory, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	rows, err := db.conn.Query(`
		SELECT `+subscriptionSelectColumns+`
		FROM subscription_history
		WHERE status = 'paused' AND card_token <> '' AND paused_at IS NOT NULL AND paused_at <= $1
		ORDER BY id
	`, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to list paused subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]*SubscriptionHistory, error) {
	var out []*SubscriptionHistory
	for rows.Next() {
		s := &SubscriptionHistory{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.TariffID, &s.OriginalTariffID, &s.Start, &s.End, &s.Status, &s.AutoRenewal,
			&s.GatewaySubscriptionID, &s.CardToken, &s.FailedAttempts, &s.LastPaymentAttempt, &s.PausedAt,
			&s.NextPaymentDate, &s.DowngradeAttempts, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- User activities ----

func (db *DB) RecordActivity(userID int64, activityType string, extra map[string]interface{}) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	extraJSON := "{}"
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("failed to encode activity extra: %w", err)
		}
		extraJSON = string(data)
	}
	_, err := db.conn.Exec(`
		INSERT INTO user_activities (user_id, activity_type, timestamp, extra_json) VALUES ($1, $2, $3, $4)
	`, userID, activityType, time.Now(), extraJSON)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// CountActivity reports how many times activityType has been recorded for
// userID; used to detect "this is the user's first profile parse" (§4.12).
func (db *DB) CountActivity(userID int64, activityType string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database not configured")
	}
	var count int64
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM user_activities WHERE user_id = $1 AND activity_type = $2
	`, userID, activityType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return count, nil
}

// ---- Notification schedules ----

func (db *DB) CreateNotification(n *NotificationSchedule) (*NotificationSchedule, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	row := db.conn.QueryRow(`
		INSERT INTO notification_schedules (user_id, type, scheduled_time, message, button_text, button_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, user_id, type, scheduled_time, sent, sent_at, message, button_text, button_url, retry_count, last_error, created_at
	`, n.UserID, n.Type, n.ScheduledTime, n.Message, n.ButtonText, n.ButtonURL, time.Now())
	return scanNotification(row)
}

func scanNotification(row *sql.Row) (*NotificationSchedule, error) {
	n := &NotificationSchedule{}
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.ScheduledTime, &n.Sent, &n.SentAt, &n.Message, &n.ButtonText, &n.ButtonURL, &n.RetryCount, &n.LastError, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListDueNotifications selects unsent, under-retry-cap, due notifications
// (§4.12 delivery loop).
func (db *DB) ListDueNotifications(now time.Time, maxRetries int) ([]*NotificationSchedule, error) {
	if db == nil {
		return nil, fmt.Errorf("database not configured")
	}
	rows, err := db.conn.Query(`
		SELECT id, user_id, type, scheduled_time, sent, sent_at, message, button_text, button_url, retry_count, last_error, created_at
		FROM notification_schedules
		WHERE sent = FALSE AND retry_count < $1 AND scheduled_time <= $2
		ORDER BY scheduled_time
	`, maxRetries, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	defer rows.Close()

	var out []*NotificationSchedule
	for rows.Next() {
		n := &NotificationSchedule{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.ScheduledTime, &n.Sent, &n.SentAt, &n.Message, &n.ButtonText, &n.ButtonURL, &n.RetryCount, &n.LastError, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (db *DB) MarkNotificationSent(id int64) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`UPDATE notification_schedules SET sent = TRUE, sent_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

func (db *DB) MarkNotificationFailed(id int64, errMsg string) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}
	_, err := db.conn.Exec(`
		UPDATE notification_schedules SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// Encrypt/Decrypt expose the configured EncryptionManager. Nothing in this
// module calls them: card tokens and cookies are written to their columns
// as given, and the database package stores whatever string it's given.
func (db *DB) Encrypt(plaintext string) (string, error) {
	if db == nil {
		return plaintext, nil
	}
	return db.encryptionManager.Encrypt(plaintext)
}

func (db *DB) Decrypt(ciphertext string) (string, error) {
	if db == nil {
		return ciphertext, nil
	}
	return db.encryptionManager.Decrypt(ciphertext)
}
