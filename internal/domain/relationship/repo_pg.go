package relationship

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateRelationship
	}
	return err
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, patient_id, doctor_id, hospital_id, relationship_type, notes, is_active,
	start_date, end_date, content_hash, ledger_tx_id, ledger_mirrored, created_at, updated_at`

func scan(row pgx.Row) (*Relationship, error) {
	r := &Relationship{}
	err := row.Scan(
		&r.ID, &r.PatientID, &r.DoctorID, &r.HospitalID, &r.RelationshipType, &r.Notes, &r.IsActive,
		&r.StartDate, &r.EndDate, &r.ContentHash, &r.LedgerTxID, &r.LedgerMirrored, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return r, nil
}

// Create relies on the partial unique index over (patient_id, doctor_id)
// WHERE is_active for the duplicate-active invariant.
func (repo *repoPG) Create(ctx context.Context, r *Relationship) error {
	r.ID = uuid.New()
	err := repo.pool.QueryRow(ctx, `
		INSERT INTO relationship (id, patient_id, doctor_id, hospital_id, relationship_type, notes,
			is_active, start_date, content_hash, ledger_tx_id, ledger_mirrored)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		r.ID, r.PatientID, r.DoctorID, r.HospitalID, r.RelationshipType, r.Notes,
		r.IsActive, r.StartDate, r.ContentHash, r.LedgerTxID, r.LedgerMirrored,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapPGError(err)
}

func (repo *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	return scan(repo.pool.QueryRow(ctx, `SELECT `+cols+` FROM relationship WHERE id = $1`, id))
}

func (repo *repoPG) GetActivePair(ctx context.Context, patientID, doctorID uuid.UUID) (*Relationship, error) {
	return scan(repo.pool.QueryRow(ctx, `
		SELECT `+cols+` FROM relationship
		WHERE patient_id = $1 AND doctor_id = $2 AND is_active`,
		patientID, doctorID))
}

func (repo *repoPG) Update(ctx context.Context, r *Relationship) error {
	err := repo.pool.QueryRow(ctx, `
		UPDATE relationship
		SET relationship_type=$2, notes=$3, is_active=$4, end_date=$5, ledger_tx_id=$6,
			ledger_mirrored=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.RelationshipType, r.Notes, r.IsActive, r.EndDate, r.LedgerTxID, r.LedgerMirrored,
	).Scan(&r.UpdatedAt)
	return mapPGError(err)
}

func (repo *repoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Relationship, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+cols+` FROM relationship
		WHERE patient_id = $1 AND is_active ORDER BY start_date DESC`, patientID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collect(rows)
}

func (repo *repoPG) ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Relationship, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+cols+` FROM relationship
		WHERE doctor_id = $1 AND is_active ORDER BY start_date DESC`, doctorID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Relationship, error) {
	var relationships []*Relationship
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, r)
	}
	return relationships, rows.Err()
}
