package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
	"github.com/mcoot/playhub/internal/storage/sqlite/migrations"
)

// Store is a SQLite-backed implementation of the storage interface.
// Conditional writes are single guarded UPDATE/DELETE statements inside a transaction.
type Store struct {
	sqlDB *sql.DB
}

// Ensure Store implements the interface
var _ storage.Storage = (*Store)(nil)

// Open opens a SQLite store at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullMatchID(id *model.MatchID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func fromNullMatchID(v sql.NullString) *model.MatchID {
	if !v.Valid {
		return nil
	}
	id := model.MatchID(v.String)
	return &id
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Identity operations

const identityColumns = `id, display_name, role, banned, removed_at, created_at, updated_at`

func scanIdentity(row scanner) (*model.Identity, error) {
	var identity model.Identity
	var banned int
	var removedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&identity.ID, &identity.DisplayName, &identity.Role, &banned, &removedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	identity.Banned = banned != 0
	identity.RemovedAt = fromNullMillis(removedAt)
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return &identity, nil
}

func (s *Store) SaveIdentity(ctx context.Context, identity *model.Identity) error {
	banned := 0
	if identity.Banned {
		banned = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_name = excluded.display_name,
	role = excluded.role,
	banned = excluded.banned,
	removed_at = excluded.removed_at,
	updated_at = excluded.updated_at
`,
		identity.ID,
		identity.DisplayName,
		identity.Role,
		banned,
		nullMillis(identity.RemovedAt),
		toMillis(identity.CreatedAt),
		toMillis(identity.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, id model.IdentityID) (*model.Identity, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var result []*model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		result = append(result, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return result, nil
}

// Credential operations

func (s *Store) SaveCredentials(ctx context.Context, creds *model.Credentials) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (username, identity_id, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
	identity_id = excluded.identity_id,
	password_hash = excluded.password_hash,
	updated_at = excluded.updated_at
`,
		creds.Username,
		creds.IdentityID,
		creds.PasswordHash,
		toMillis(creds.CreatedAt),
		toMillis(creds.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *Store) GetCredentialsByUsername(ctx context.Context, username string) (*model.Credentials, error) {
	var creds model.Credentials
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT username, identity_id, password_hash, created_at, updated_at FROM credentials WHERE username = ?
`, username).Scan(&creds.Username, &creds.IdentityID, &creds.PasswordHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	creds.CreatedAt = fromMillis(createdAt)
	creds.UpdatedAt = fromMillis(updatedAt)
	return &creds, nil
}

// Join request operations

const joinRequestColumns = `id, display_name, status, identity_id, claim_secret, created_at, updated_at`

func scanJoinRequest(row scanner) (*model.JoinRequest, error) {
	var req model.JoinRequest
	var createdAt, updatedAt int64
	if err := row.Scan(&req.ID, &req.DisplayName, &req.Status, &req.IdentityID, &req.ClaimSecret, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	req.CreatedAt = fromMillis(createdAt)
	req.UpdatedAt = fromMillis(updatedAt)
	return &req, nil
}

func (s *Store) SaveJoinRequest(ctx context.Context, req *model.JoinRequest) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO join_requests (`+joinRequestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_name = excluded.display_name,
	status = excluded.status,
	identity_id = excluded.identity_id,
	claim_secret = excluded.claim_secret,
	updated_at = excluded.updated_at
`,
		req.ID,
		req.DisplayName,
		req.Status,
		req.IdentityID,
		req.ClaimSecret,
		toMillis(req.CreatedAt),
		toMillis(req.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save join request: %w", err)
	}
	return nil
}

func (s *Store) GetJoinRequest(ctx context.Context, id model.JoinRequestID) (*model.JoinRequest, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+joinRequestColumns+` FROM join_requests WHERE id = ?`, id)
	req, err := scanJoinRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJoinRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get join request: %w", err)
	}
	return req, nil
}

func (s *Store) ListJoinRequests(ctx context.Context, status model.JoinRequestStatus) ([]*model.JoinRequest, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+joinRequestColumns+` FROM join_requests WHERE status = ? ORDER BY created_at, id
`, status)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()

	var result []*model.JoinRequest
	for rows.Next() {
		req, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate join requests: %w", err)
	}
	return result, nil
}

// Inventory operations

func upsertStack(ctx context.Context, db execer, stack *model.ResourceStack) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO resource_stacks (owner_id, item_key, qty, reserved_qty) VALUES (?, ?, ?, ?)
ON CONFLICT(owner_id, item_key) DO UPDATE SET
	qty = excluded.qty,
	reserved_qty = excluded.reserved_qty
`, stack.OwnerID, stack.ItemKey, stack.Qty, stack.ReservedQty)
	if err != nil {
		return fmt.Errorf("save stack %s/%s: %w", stack.OwnerID, stack.ItemKey, err)
	}
	return nil
}

func (s *Store) SaveStack(ctx context.Context, stack *model.ResourceStack) error {
	return upsertStack(ctx, s.sqlDB, stack)
}

func (s *Store) GetStack(ctx context.Context, ref model.StackRef) (*model.ResourceStack, error) {
	stack := model.ResourceStack{OwnerID: ref.OwnerID, ItemKey: ref.ItemKey}
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT qty, reserved_qty FROM resource_stacks WHERE owner_id = ? AND item_key = ?
`, ref.OwnerID, ref.ItemKey).Scan(&stack.Qty, &stack.ReservedQty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrStackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stack: %w", err)
	}
	return &stack, nil
}

func (s *Store) ListStacks(ctx context.Context, owner model.IdentityID) ([]*model.ResourceStack, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT owner_id, item_key, qty, reserved_qty FROM resource_stacks WHERE owner_id = ? ORDER BY item_key
`, owner)
	if err != nil {
		return nil, fmt.Errorf("list stacks: %w", err)
	}
	defer rows.Close()

	var result []*model.ResourceStack
	for rows.Next() {
		var stack model.ResourceStack
		if err := rows.Scan(&stack.OwnerID, &stack.ItemKey, &stack.Qty, &stack.ReservedQty); err != nil {
			return nil, fmt.Errorf("scan stack: %w", err)
		}
		result = append(result, &stack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stacks: %w", err)
	}
	return result, nil
}

// Transfer operations

const offerColumns = `id, from_owner, to_owner, item_key, qty, status, expires_at, created_at, finalized_at`

func scanOffer(row scanner) (*model.TransferOffer, error) {
	var offer model.TransferOffer
	var expiresAt, createdAt int64
	var finalizedAt sql.NullInt64
	if err := row.Scan(&offer.ID, &offer.FromOwner, &offer.ToOwner, &offer.ItemKey, &offer.Qty,
		&offer.Status, &expiresAt, &createdAt, &finalizedAt); err != nil {
		return nil, err
	}
	offer.ExpiresAt = fromMillis(expiresAt)
	offer.CreatedAt = fromMillis(createdAt)
	offer.FinalizedAt = fromNullMillis(finalizedAt)
	return &offer, nil
}

func (s *Store) queryOffers(ctx context.Context, query string, args ...any) ([]*model.TransferOffer, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var result []*model.TransferOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		result = append(result, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return result, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer *model.TransferOffer, sender *model.ResourceStack) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertStack(ctx, tx, sender); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO transfer_offers (`+offerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			offer.ID,
			offer.FromOwner,
			offer.ToOwner,
			offer.ItemKey,
			offer.Qty,
			offer.Status,
			toMillis(offer.ExpiresAt),
			toMillis(offer.CreatedAt),
			nullMillis(offer.FinalizedAt),
		)
		if err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
		return nil
	})
}

func (s *Store) GetOffer(ctx context.Context, id model.OfferID) (*model.TransferOffer, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM transfer_offers WHERE id = ?`, id)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return offer, nil
}

func (s *Store) ListOffersFor(ctx context.Context, id model.IdentityID) ([]*model.TransferOffer, error) {
	return s.queryOffers(ctx, `
SELECT `+offerColumns+` FROM transfer_offers WHERE from_owner = ? OR to_owner = ? ORDER BY created_at, id
`, id, id)
}

func (s *Store) ListPendingOffers(ctx context.Context) ([]*model.TransferOffer, error) {
	return s.queryOffers(ctx, `
SELECT `+offerColumns+` FROM transfer_offers WHERE status = ? ORDER BY created_at, id
`, model.OfferPending)
}

func (s *Store) CommitTransfer(ctx context.Context, commit storage.TransferCommit) error {
	offer := commit.Offer
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE transfer_offers SET status = ?, finalized_at = ? WHERE id = ? AND status = ?
`, offer.Status, nullMillis(offer.FinalizedAt), offer.ID, commit.ExpectedStatus)
		if err != nil {
			return fmt.Errorf("update offer: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update offer: %w", err)
		}
		if n == 0 {
			var found int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM transfer_offers WHERE id = ?`, offer.ID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrOfferNotFound
			}
			if err != nil {
				return fmt.Errorf("lookup offer: %w", err)
			}
			return model.ErrStatusConflict
		}

		for _, stack := range commit.Stacks {
			if err := upsertStack(ctx, tx, stack); err != nil {
				return err
			}
		}
		return nil
	})
}

// Queue operations

const queueEntryColumns = `id, identity_id, game_key, mode, status, rematch_of, match_id, enqueued_at, updated_at`

func scanQueueEntry(row scanner) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	var rematchOf, matchID sql.NullString
	var enqueuedAt, updatedAt int64
	if err := row.Scan(&entry.ID, &entry.IdentityID, &entry.GameKey, &entry.Mode, &entry.Status,
		&rematchOf, &matchID, &enqueuedAt, &updatedAt); err != nil {
		return nil, err
	}
	entry.RematchOf = fromNullMatchID(rematchOf)
	entry.MatchID = fromNullMatchID(matchID)
	entry.EnqueuedAt = fromMillis(enqueuedAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return &entry, nil
}

func upsertQueueEntry(ctx context.Context, db execer, entry *model.QueueEntry) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO queue_entries (`+queueEntryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	match_id = excluded.match_id,
	updated_at = excluded.updated_at
`,
		entry.ID,
		entry.IdentityID,
		entry.GameKey,
		entry.Mode,
		entry.Status,
		nullMatchID(entry.RematchOf),
		nullMatchID(entry.MatchID),
		toMillis(entry.EnqueuedAt),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save queue entry: %w", err)
	}
	return nil
}

func (s *Store) SaveQueueEntry(ctx context.Context, entry *model.QueueEntry) error {
	return upsertQueueEntry(ctx, s.sqlDB, entry)
}

func (s *Store) getQueueEntry(ctx context.Context, query string, args ...any) (*model.QueueEntry, error) {
	entry, err := scanQueueEntry(s.sqlDB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotInQueue
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

func (s *Store) GetActiveQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	return s.getQueueEntry(ctx, `
SELECT `+queueEntryColumns+` FROM queue_entries WHERE identity_id = ? AND status = ? LIMIT 1
`, id, model.QueueQueued)
}

func (s *Store) GetLatestQueueEntry(ctx context.Context, id model.IdentityID) (*model.QueueEntry, error) {
	return s.getQueueEntry(ctx, `
SELECT `+queueEntryColumns+` FROM queue_entries WHERE identity_id = ? ORDER BY enqueued_at DESC, rowid DESC LIMIT 1
`, id)
}

func (s *Store) ListQueued(ctx context.Context, pool model.QueuePool) ([]*model.QueueEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+queueEntryColumns+` FROM queue_entries
WHERE game_key = ? AND mode = ? AND status = ?
ORDER BY enqueued_at, id
`, pool.GameKey, pool.Mode, model.QueueQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var result []*model.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return result, nil
}

// Match operations

const matchColumns = `id, game_key, mode, participant_a, participant_b, status, winner, rematch_of, created_at, completed_at`

func (s *Store) CreateMatch(ctx context.Context, match *model.Match, entries []*model.QueueEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO matches (`+matchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			match.ID,
			match.GameKey,
			match.Mode,
			match.Participants[0],
			match.Participants[1],
			match.Status,
			match.Winner,
			nullMatchID(match.RematchOf),
			toMillis(match.CreatedAt),
			nullMillis(match.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		for _, entry := range entries {
			if err := upsertQueueEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetMatch(ctx context.Context, id model.MatchID) (*model.Match, error) {
	var match model.Match
	var rematchOf sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id).Scan(
		&match.ID, &match.GameKey, &match.Mode, &match.Participants[0], &match.Participants[1],
		&match.Status, &match.Winner, &rematchOf, &createdAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	match.RematchOf = fromNullMatchID(rematchOf)
	match.CreatedAt = fromMillis(createdAt)
	match.CompletedAt = fromNullMillis(completedAt)
	return &match, nil
}

func (s *Store) CompleteMatch(ctx context.Context, match *model.Match) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE matches SET status = ?, winner = ?, completed_at = ? WHERE id = ? AND status = ?
`, match.Status, match.Winner, nullMillis(match.CompletedAt), match.ID, model.MatchActive)
		if err != nil {
			return fmt.Errorf("complete match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete match: %w", err)
		}
		if n > 0 {
			return nil
		}

		var found int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM matches WHERE id = ?`, match.ID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrMatchNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup match: %w", err)
		}
		return model.ErrMatchCompleted
	})
}

// Challenge operations

func (s *Store) SaveChallenge(ctx context.Context, challenge *model.Challenge) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (identity_id, game_key, seed, proof_token, issued_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(identity_id, game_key) DO UPDATE SET
	seed = excluded.seed,
	proof_token = excluded.proof_token,
	issued_at = excluded.issued_at,
	expires_at = excluded.expires_at
`,
		challenge.IdentityID,
		challenge.GameKey,
		int64(challenge.Seed),
		challenge.ProofToken,
		toMillis(challenge.IssuedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, key model.ChallengeKey) (*model.Challenge, error) {
	challenge := model.Challenge{IdentityID: key.IdentityID, GameKey: key.GameKey}
	var seed, issuedAt, expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT seed, proof_token, issued_at, expires_at FROM challenges WHERE identity_id = ? AND game_key = ?
`, key.IdentityID, key.GameKey).Scan(&seed, &challenge.ProofToken, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	challenge.Seed = uint32(seed)
	challenge.IssuedAt = fromMillis(issuedAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return &challenge, nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, key model.ChallengeKey, proofToken string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM challenges WHERE identity_id = ? AND game_key = ? AND proof_token = ?
`, key.IdentityID, key.GameKey, proofToken)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if n == 0 {
		return model.ErrChallengeNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return int(n), nil
}

// Dictionary operations

func (s *Store) GetDictionaryWords(ctx context.Context) ([]string, error) {
	var loaded int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dictionary_meta`).Scan(&loaded)
	if err != nil {
		return nil, fmt.Errorf("check dictionary: %w", err)
	}
	if loaded == 0 {
		return nil, model.ErrDictionaryNotLoaded
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT word FROM dictionary_words ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("list dictionary words: %w", err)
	}
	defer rows.Close()

	words := []string{}
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("scan dictionary word: %w", err)
		}
		words = append(words, word)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dictionary words: %w", err)
	}
	return words, nil
}

func (s *Store) SaveDictionaryWords(ctx context.Context, words []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dictionary_words`); err != nil {
			return fmt.Errorf("clear dictionary: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO dictionary_words (word) VALUES (?)`)
		if err != nil {
			return fmt.Errorf("prepare dictionary insert: %w", err)
		}
		defer stmt.Close()
		for _, word := range words {
			if _, err := stmt.ExecContext(ctx, word); err != nil {
				return fmt.Errorf("insert dictionary word: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO dictionary_meta (id, loaded_at) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET loaded_at = excluded.loaded_at
`, time.Now().UTC().UnixMilli()); err != nil {
			return fmt.Errorf("mark dictionary loaded: %w", err)
		}
		return nil
	})
}
