package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func mapPGError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Medical record repository --

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, patient_id, doctor_id, hospital_id, record_type, title, diagnosis, prescription,
	notes, access_level, is_critical, content_hash, ledger_tx_id, ledger_mirrored,
	reconciliation_pending, created_by, created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	r := &MedicalRecord{}
	err := row.Scan(
		&r.ID, &r.PatientID, &r.DoctorID, &r.HospitalID, &r.RecordType, &r.Title, &r.Diagnosis, &r.Prescription,
		&r.Notes, &r.AccessLevel, &r.IsCritical, &r.ContentHash, &r.LedgerTxID, &r.LedgerMirrored,
		&r.ReconciliationPending, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return r, nil
}

func (repo *recordRepoPG) Create(ctx context.Context, r *MedicalRecord) error {
	r.ID = uuid.New()
	err := repo.pool.QueryRow(ctx, `
		INSERT INTO medical_record (id, patient_id, doctor_id, hospital_id, record_type, title, diagnosis,
			prescription, notes, access_level, is_critical, content_hash, ledger_tx_id, ledger_mirrored,
			reconciliation_pending, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		r.ID, r.PatientID, r.DoctorID, r.HospitalID, r.RecordType, r.Title, r.Diagnosis,
		r.Prescription, r.Notes, r.AccessLevel, r.IsCritical, r.ContentHash, r.LedgerTxID, r.LedgerMirrored,
		r.ReconciliationPending, r.CreatedBy,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapPGError(err)
}

func (repo *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(repo.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
}

func (repo *recordRepoPG) Update(ctx context.Context, r *MedicalRecord) error {
	err := repo.pool.QueryRow(ctx, `
		UPDATE medical_record
		SET record_type=$2, title=$3, diagnosis=$4, prescription=$5, notes=$6, access_level=$7,
			is_critical=$8, content_hash=$9, ledger_tx_id=$10, ledger_mirrored=$11,
			reconciliation_pending=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.RecordType, r.Title, r.Diagnosis, r.Prescription, r.Notes, r.AccessLevel,
		r.IsCritical, r.ContentHash, r.LedgerTxID, r.LedgerMirrored, r.ReconciliationPending,
	).Scan(&r.UpdatedAt)
	return mapPGError(err)
}

func (repo *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := repo.pool.Exec(ctx, `DELETE FROM medical_record WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (repo *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var total int
	if err := repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, mapPGError(err)
	}

	rows, err := repo.pool.Query(ctx, `
		SELECT `+recordCols+` FROM medical_record
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, mapPGError(err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	return records, total, err
}

func (repo *recordRepoPG) ListByPatientDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*MedicalRecord, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+recordCols+` FROM medical_record
		WHERE patient_id = $1 AND doctor_id = $2 ORDER BY created_at DESC`,
		patientID, doctorID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*MedicalRecord, error) {
	var records []*MedicalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// -- Report repository --

type reportRepoPG struct {
	pool *pgxpool.Pool
}

func NewReportRepo(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

const reportCols = `id, record_id, patient_id, doctor_id, report_type, title, findings, access_level,
	is_critical, content_hash, ledger_tx_id, ledger_mirrored, reconciliation_pending,
	created_by, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	r := &Report{}
	err := row.Scan(
		&r.ID, &r.RecordID, &r.PatientID, &r.DoctorID, &r.ReportType, &r.Title, &r.Findings, &r.AccessLevel,
		&r.IsCritical, &r.ContentHash, &r.LedgerTxID, &r.LedgerMirrored, &r.ReconciliationPending,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return r, nil
}

func (repo *reportRepoPG) Create(ctx context.Context, r *Report) error {
	r.ID = uuid.New()
	err := repo.pool.QueryRow(ctx, `
		INSERT INTO report (id, record_id, patient_id, doctor_id, report_type, title, findings,
			access_level, is_critical, content_hash, ledger_tx_id, ledger_mirrored,
			reconciliation_pending, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		r.ID, r.RecordID, r.PatientID, r.DoctorID, r.ReportType, r.Title, r.Findings,
		r.AccessLevel, r.IsCritical, r.ContentHash, r.LedgerTxID, r.LedgerMirrored,
		r.ReconciliationPending, r.CreatedBy,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapPGError(err)
}

func (repo *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(repo.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM report WHERE id = $1`, id))
}

func (repo *reportRepoPG) Update(ctx context.Context, r *Report) error {
	err := repo.pool.QueryRow(ctx, `
		UPDATE report
		SET report_type=$2, title=$3, findings=$4, access_level=$5, is_critical=$6, content_hash=$7,
			ledger_tx_id=$8, ledger_mirrored=$9, reconciliation_pending=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.ReportType, r.Title, r.Findings, r.AccessLevel, r.IsCritical, r.ContentHash,
		r.LedgerTxID, r.LedgerMirrored, r.ReconciliationPending,
	).Scan(&r.UpdatedAt)
	return mapPGError(err)
}

func (repo *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := repo.pool.Exec(ctx, `DELETE FROM report WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (repo *reportRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM report WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, mapPGError(err)
	}

	rows, err := repo.pool.Query(ctx, `
		SELECT `+reportCols+` FROM report
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, mapPGError(err)
	}
	defer rows.Close()

	reports, err := collectReports(rows)
	return reports, total, err
}

func (repo *reportRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Report, error) {
	rows, err := repo.pool.Query(ctx,
		`SELECT `+reportCols+` FROM report WHERE record_id = $1 ORDER BY created_at DESC`, recordID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collectReports(rows)
}

func (repo *reportRepoPG) ListByPatientDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*Report, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+reportCols+` FROM report
		WHERE patient_id = $1 AND doctor_id = $2 ORDER BY created_at DESC`,
		patientID, doctorID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collectReports(rows)
}

func collectReports(rows pgx.Rows) ([]*Report, error) {
	var reports []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
