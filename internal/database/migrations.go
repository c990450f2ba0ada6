package database

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS groups (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		name VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL,
		region VARCHAR(100) NOT NULL DEFAULT '',
		zip_code VARCHAR(20) NOT NULL DEFAULT '',
		radius_km INTEGER NOT NULL DEFAULT 0,
		min_members INTEGER NOT NULL,
		max_members INTEGER NOT NULL,
		current_members INTEGER NOT NULL DEFAULT 0,
		target_savings_pct INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'forming',
		formation_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
		bid_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
		auto_close BOOLEAN NOT NULL DEFAULT TRUE,
		accepted_bid_id UUID,
		created_by UUID NOT NULL,
		admin_id UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CHECK (min_members > 0),
		CHECK (max_members >= min_members),
		CHECK (current_members >= 0 AND current_members <= max_members)
	)`,

	`CREATE TABLE IF NOT EXISTS joining_criteria (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		kind VARCHAR(20) NOT NULL,
		field VARCHAR(100) NOT NULL,
		required BOOLEAN NOT NULL DEFAULT TRUE,
		min_value DOUBLE PRECISION,
		max_value DOUBLE PRECISION,
		bool_value BOOLEAN,
		text_value VARCHAR(255),
		date_after TIMESTAMP WITH TIME ZONE,
		date_before TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS group_members (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		project_id UUID NOT NULL,
		user_id UUID NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_founding BOOLEAN NOT NULL DEFAULT FALSE,
		savings_cents BIGINT,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE(group_id, project_id)
	)`,

	`CREATE TABLE IF NOT EXISTS group_bids (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		contractor_id UUID NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'submitted',
		group_price_cents BIGINT NOT NULL,
		per_member_price_cents BIGINT NOT NULL,
		savings_pct INTEGER NOT NULL DEFAULT 0,
		required_acceptances INTEGER NOT NULL DEFAULT 0,
		required_acceptance_pct INTEGER NOT NULL DEFAULT 0,
		current_acceptances INTEGER NOT NULL DEFAULT 0,
		acceptance_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
		final_offer BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CHECK (current_acceptances >= 0),
		CHECK (required_acceptance_pct >= 0 AND required_acceptance_pct <= 100)
	)`,

	// groups is created before group_bids, so the accepted-bid reference is
	// attached afterwards. Guarded so re-running migrations stays a no-op.
	`DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_constraint WHERE conname = 'fk_groups_accepted_bid'
		) THEN
			ALTER TABLE groups ADD CONSTRAINT fk_groups_accepted_bid
				FOREIGN KEY (accepted_bid_id) REFERENCES group_bids(id);
		END IF;
	END $$`,

	`CREATE TABLE IF NOT EXISTS bid_items (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		bid_id UUID NOT NULL REFERENCES group_bids(id) ON DELETE CASCADE,
		description VARCHAR(500) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		price_cents BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS project_specifics (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		bid_id UUID NOT NULL REFERENCES group_bids(id) ON DELETE CASCADE,
		member_id UUID NOT NULL REFERENCES group_members(id) ON DELETE CASCADE,
		price_cents BIGINT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		timeline_days INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE(bid_id, member_id)
	)`,

	`CREATE TABLE IF NOT EXISTS acceptances (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		bid_id UUID NOT NULL REFERENCES group_bids(id) ON DELETE CASCADE,
		member_id UUID NOT NULL REFERENCES group_members(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending_payment',
		amount_cents BIGINT NOT NULL,
		payment_ref VARCHAR(255),
		payment_attempts INTEGER NOT NULL DEFAULT 0,
		failure_reason VARCHAR(500),
		confirmed_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS bid_extensions (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		bid_id UUID NOT NULL REFERENCES group_bids(id) ON DELETE CASCADE,
		previous_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
		new_deadline TIMESTAMP WITH TIME ZONE NOT NULL,
		reason VARCHAR(500) NOT NULL DEFAULT '',
		extended_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	// One live acceptance per (bid, member). The database, not the service,
	// is what resolves two racing accept calls down to one row.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_acceptances_live
		ON acceptances(bid_id, member_id)
		WHERE status IN ('pending_payment', 'confirmed')`,

	// At most one accepted bid per group, ever.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_bids_accepted
		ON group_bids(group_id)
		WHERE status = 'accepted'`,

	// At most one bid open for acceptance per group.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_bids_active
		ON group_bids(group_id)
		WHERE status = 'active'`,

	`CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_group_bids_group_id ON group_bids(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_acceptances_bid_id ON acceptances(bid_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bid_extensions_bid_id ON bid_extensions(bid_id)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_status ON groups(status)`,
	`CREATE INDEX IF NOT EXISTS idx_group_bids_status ON group_bids(status)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
