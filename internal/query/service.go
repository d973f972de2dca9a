package query

import (
	"context"
	"database/sql"
	"fmt"

	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries are
// served via HTTP/JSON, reading from PostgreSQL projection tables. All
// responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a user's wallet balance for a specific asset.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	walletPath := fmt.Sprintf("user:%s:wallet:%s", userID, asset)
	wallet, err := qs.getProjectedBalance(ctx, walletPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:        userID,
		Asset:         asset,
		WalletBalance: wallet,
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetMarket returns one market with implied prices derived at query time.
func (qs *QueryService) GetMarket(ctx context.Context, marketID string) (*MarketResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT market_id, creator, resolver, title, description, category, asset,
		       state, deadline_us, yes_pool, no_pool, total_yes_shares, total_no_shares,
		       volume, bet_count, participants, outcome, resolved_at_us, swept, version
		FROM projections.markets
		WHERE market_id = $1
	`, marketID)

	m, err := scanMarket(row, asOfSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMarkets returns markets, optionally filtered by state and category.
// Cursor-based pagination over version-insensitive market_id ordering.
func (qs *QueryService) ListMarkets(
	ctx context.Context,
	state *string,
	category *string,
	limit int,
	afterMarketID *string,
) ([]MarketResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT market_id, creator, resolver, title, description, category, asset,
		       state, deadline_us, yes_pool, no_pool, total_yes_shares, total_no_shares,
		       volume, bet_count, participants, outcome, resolved_at_us, swept, version
		FROM projections.markets
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if state != nil {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, *state)
		argIdx++
	}
	if category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, *category)
		argIdx++
	}
	if afterMarketID != nil {
		query += fmt.Sprintf(" AND market_id > $%d", argIdx)
		args = append(args, *afterMarketID)
		argIdx++
	}

	query += " ORDER BY market_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		m, err := scanMarket(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}

	return markets, rows.Err()
}

// GetPositions returns all open positions for a user.
func (qs *QueryService) GetPositions(
	ctx context.Context,
	userID uuid.UUID,
) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, yes_shares, no_shares, yes_stake, no_stake,
		       fee_paid, total_invested, avg_yes_price, avg_no_price,
		       bet_count, claimed, claimed_amount, version
		FROM projections.positions
		WHERE user_id = $1
		ORDER BY market_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.UserID = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.MarketID, &p.YesShares, &p.NoShares, &p.YesStake, &p.NoStake,
			&p.FeePaid, &p.TotalInvested, &p.AvgYesPrice, &p.AvgNoPrice,
			&p.BetCount, &p.Claimed, &p.ClaimedAmount, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetMarketPositions returns every position held in one market.
func (qs *QueryService) GetMarketPositions(
	ctx context.Context,
	marketID string,
) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT user_id, yes_shares, no_shares, yes_stake, no_stake,
		       fee_paid, total_invested, avg_yes_price, avg_no_price,
		       bet_count, claimed, claimed_amount, version
		FROM projections.positions
		WHERE market_id = $1
		ORDER BY user_id
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.MarketID = marketID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.UserID, &p.YesShares, &p.NoShares, &p.YesStake, &p.NoStake,
			&p.FeePaid, &p.TotalInvested, &p.AvgYesPrice, &p.AvgNoPrice,
			&p.BetCount, &p.Claimed, &p.ClaimedAmount, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetMarketBalances returns the ledger accounts backing one market.
func (qs *QueryService) GetMarketBalances(
	ctx context.Context,
	marketID string,
	asset string,
) (*MarketBalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	yesVault, err := qs.getProjectedBalance(ctx, fmt.Sprintf("market:%s:yes_vault:%s", marketID, asset))
	if err != nil {
		return nil, err
	}
	noVault, err := qs.getProjectedBalance(ctx, fmt.Sprintf("market:%s:no_vault:%s", marketID, asset))
	if err != nil {
		return nil, err
	}
	fees, err := qs.getProjectedBalance(ctx, fmt.Sprintf("market:%s:fees:%s", marketID, asset))
	if err != nil {
		return nil, err
	}

	return &MarketBalancesResponse{
		MarketID:     marketID,
		Asset:        asset,
		YesVault:     yesVault,
		NoVault:      noVault,
		Fees:         fees,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTreasury returns the platform treasury balance for an asset.
func (qs *QueryService) GetTreasury(ctx context.Context, asset string) (*TreasuryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := qs.getProjectedBalance(ctx, fmt.Sprintf("system:treasury:%s", asset))
	if err != nil {
		return nil, err
	}

	return &TreasuryResponse{
		Asset:        asset,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetJournalHistory returns journal entries for a user with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row rowScanner, asOfSeq int64) (*MarketResponse, error) {
	var m MarketResponse
	if err := row.Scan(
		&m.MarketID, &m.Creator, &m.Resolver, &m.Title, &m.Description,
		&m.Category, &m.Asset, &m.State, &m.DeadlineUs,
		&m.YesPool, &m.NoPool, &m.TotalYesShares, &m.TotalNoShares,
		&m.Volume, &m.BetCount, &m.Participants,
		&m.Outcome, &m.ResolvedAtUs, &m.Swept, &m.Version,
	); err != nil {
		return nil, err
	}
	m.AsOfSequence = asOfSeq

	yesPrice, err := fpmath.ImpliedPrice(m.YesPool, m.YesPool, m.NoPool)
	if err != nil {
		return nil, fmt.Errorf("implied yes price: %w", err)
	}
	m.YesPrice = yesPrice
	m.NoPrice = fpmath.PriceScale - yesPrice

	return &m, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
