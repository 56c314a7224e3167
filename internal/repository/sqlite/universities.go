package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"
)

const universityColumns = `id, blockchain_id, name, is_active, required_approvals`

func scanUniversity(row rowScanner) (model.University, error) {
	var (
		u        model.University
		chainID  sql.NullInt64
		isActive int
	)
	if err := row.Scan(&u.ID, &chainID, &u.Name, &isActive, &u.RequiredApprovals); err != nil {
		return model.University{}, err
	}
	if chainID.Valid {
		id := uint64(chainID.Int64)
		u.BlockchainID = &id
	}
	u.IsActive = isActive == 1
	return u, nil
}

func loadUniversity(ctx context.Context, q queryer, where string, arg interface{}) (*model.University, error) {
	u, err := scanUniversity(q.QueryRowContext(ctx, `SELECT `+universityColumns+` FROM universities WHERE `+where+` = ?`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load university: %w", err)
	}
	return &u, nil
}

func (s *Store) SaveUniversity(ctx context.Context, university model.University) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := loadUniversity(ctx, tx, "id", university.ID)
		if err != nil {
			return err
		}
		if err := repository.CheckUniversityWrite(stored, university); err != nil {
			return err
		}

		var chainID sql.NullInt64
		if university.BlockchainID != nil {
			chainID = sql.NullInt64{Int64: int64(*university.BlockchainID), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO universities (`+universityColumns+`)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				blockchain_id = excluded.blockchain_id,
				name = excluded.name,
				is_active = excluded.is_active,
				required_approvals = excluded.required_approvals
		`, university.ID, chainID, university.Name, boolToInt(university.IsActive), university.RequiredApprovals)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: blockchain id of university %s is taken", model.ErrInvariantViolation, university.ID)
		}
		if err != nil {
			return fmt.Errorf("save university %s: %w", university.ID, err)
		}
		return nil
	})
}

func (s *Store) GetUniversity(ctx context.Context, id string) (model.University, error) {
	u, err := loadUniversity(ctx, s.db, "id", id)
	if err != nil {
		return model.University{}, err
	}
	if u == nil {
		return model.University{}, fmt.Errorf("university %s: %w", id, model.ErrNotFound)
	}
	return *u, nil
}

func (s *Store) GetUniversityByBlockchainID(ctx context.Context, blockchainID uint64) (model.University, error) {
	u, err := loadUniversity(ctx, s.db, "blockchain_id", int64(blockchainID))
	if err != nil {
		return model.University{}, err
	}
	if u == nil {
		return model.University{}, fmt.Errorf("university with blockchain id %d: %w", blockchainID, model.ErrNotFound)
	}
	return *u, nil
}
