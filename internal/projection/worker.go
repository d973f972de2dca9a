package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	MarketID       *string
	JournalEntries []JournalEntry
	Market         *MarketRow    // set when the event touched a market
	Positions      []PositionRow // positions touched by the event
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// MarketRow is the queryable market projection.
type MarketRow struct {
	MarketID               string
	Creator                string
	Resolver               string
	Title                  string
	Description            string
	Category               string
	Asset                  string
	State                  string
	Deadline               int64
	YesPool                int64
	NoPool                 int64
	TotalYesShares         int64
	TotalNoShares          int64
	Volume                 int64
	BetCount               int64
	Participants           int64
	Outcome                *bool
	ResolvedAt             int64
	UnclaimedWinningShares int64
	Swept                  bool
	Version                int64
}

// PositionRow is the queryable position projection.
type PositionRow struct {
	UserID        string
	MarketID      string
	YesShares     int64
	NoShares      int64
	YesStake      int64
	NoStake       int64
	FeePaid       int64
	TotalInvested int64
	AvgYesPrice   int64
	AvgNoPrice    int64
	BetCount      int64
	Claimed       bool
	ClaimedAmount int64
	Version       int64
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Market != nil {
		if err := pw.upsertMarket(ctx, tx, output.Market, output.Sequence); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}

	for i := range output.Positions {
		if err := pw.upsertPosition(ctx, tx, &output.Positions[i], output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) upsertMarket(ctx context.Context, tx *sql.Tx, m *MarketRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, creator, resolver, title, description, category, asset, state,
			 deadline_us, yes_pool, no_pool, total_yes_shares, total_no_shares,
			 volume, bet_count, participants, outcome, resolved_at_us,
			 unclaimed_winning_shares, swept, version, last_sequence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (market_id) DO UPDATE SET
			resolver = $3, title = $4, description = $5, category = $6, state = $8,
			deadline_us = $9, yes_pool = $10, no_pool = $11,
			total_yes_shares = $12, total_no_shares = $13,
			volume = $14, bet_count = $15, participants = $16,
			outcome = $17, resolved_at_us = $18,
			unclaimed_winning_shares = $19, swept = $20, version = $21, last_sequence = $22
		WHERE projections.markets.version <= $21
	`, m.MarketID, m.Creator, m.Resolver, m.Title, m.Description, m.Category, m.Asset,
		m.State, m.Deadline, m.YesPool, m.NoPool, m.TotalYesShares, m.TotalNoShares,
		m.Volume, m.BetCount, m.Participants, m.Outcome, m.ResolvedAt,
		m.UnclaimedWinningShares, m.Swept, m.Version, seq)
	return err
}

func (pw *ProjectionWorker) upsertPosition(ctx context.Context, tx *sql.Tx, p *PositionRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(user_id, market_id, yes_shares, no_shares, yes_stake, no_stake,
			 fee_paid, total_invested, avg_yes_price, avg_no_price,
			 bet_count, claimed, claimed_amount, version, last_sequence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (user_id, market_id) DO UPDATE SET
			yes_shares = $3, no_shares = $4, yes_stake = $5, no_stake = $6,
			fee_paid = $7, total_invested = $8, avg_yes_price = $9, avg_no_price = $10,
			bet_count = $11, claimed = $12, claimed_amount = $13,
			version = $14, last_sequence = $15
		WHERE projections.positions.version <= $14
	`, p.UserID, p.MarketID, p.YesShares, p.NoShares, p.YesStake, p.NoStake,
		p.FeePaid, p.TotalInvested, p.AvgYesPrice, p.AvgNoPrice,
		p.BetCount, p.Claimed, p.ClaimedAmount, p.Version, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the event log.
// Market and position projections refill as events replay through the core.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	// Truncate all projection tables
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.markets`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild from journal entries
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Subtract debits
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
