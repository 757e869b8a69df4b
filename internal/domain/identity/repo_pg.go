package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for duplicate keys.
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
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, pgErr.ConstraintName)
	}
	return err
}

// -- Patient repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, full_name, dob, gender, blood_group, contact_number, email, address,
	emergency_contact, wallet_address, content_hash, ledger_tx_id, ledger_mirrored,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	p := &Patient{}
	err := row.Scan(
		&p.ID, &p.FullName, &p.DOB, &p.Gender, &p.BloodGroup, &p.ContactNumber, &p.Email, &p.Address,
		&p.EmergencyContact, &p.WalletAddress, &p.ContentHash, &p.LedgerTxID, &p.LedgerMirrored,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patient (id, full_name, dob, gender, blood_group, contact_number, email, address,
			emergency_contact, wallet_address, content_hash, ledger_tx_id, ledger_mirrored)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.FullName, p.DOB, p.Gender, p.BloodGroup, p.ContactNumber, p.Email, p.Address,
		p.EmergencyContact, p.WalletAddress, p.ContentHash, p.LedgerTxID, p.LedgerMirrored,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapPGError(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE email = $1`, email))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE patient
		SET full_name=$2, gender=$3, blood_group=$4, contact_number=$5, address=$6,
			emergency_contact=$7, wallet_address=$8, content_hash=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Gender, p.BloodGroup, p.ContactNumber, p.Address,
		p.EmergencyContact, p.WalletAddress, p.ContentHash,
	).Scan(&p.UpdatedAt)
	return mapPGError(err)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, mapPGError(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapPGError(err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Doctor repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorCols = `id, full_name, specialization, qualification, license_number, contact_number,
	email, hospital_id, years_of_experience, wallet_address, content_hash, ledger_tx_id,
	ledger_mirrored, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	d := &Doctor{}
	err := row.Scan(
		&d.ID, &d.FullName, &d.Specialization, &d.Qualification, &d.LicenseNumber, &d.ContactNumber,
		&d.Email, &d.HospitalID, &d.YearsOfExperience, &d.WalletAddress, &d.ContentHash, &d.LedgerTxID,
		&d.LedgerMirrored, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO doctor (id, full_name, specialization, qualification, license_number, contact_number,
			email, hospital_id, years_of_experience, wallet_address, content_hash, ledger_tx_id, ledger_mirrored)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		d.ID, d.FullName, d.Specialization, d.Qualification, d.LicenseNumber, d.ContactNumber,
		d.Email, d.HospitalID, d.YearsOfExperience, d.WalletAddress, d.ContentHash, d.LedgerTxID, d.LedgerMirrored,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return mapPGError(err)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.pool.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *doctorRepoPG) GetByLicense(ctx context.Context, licenseNumber string) (*Doctor, error) {
	return scanDoctor(r.pool.QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE license_number = $1`, licenseNumber))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE doctor
		SET full_name=$2, specialization=$3, qualification=$4, contact_number=$5, hospital_id=$6,
			years_of_experience=$7, wallet_address=$8, content_hash=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.FullName, d.Specialization, d.Qualification, d.ContactNumber, d.HospitalID,
		d.YearsOfExperience, d.WalletAddress, d.ContentHash,
	).Scan(&d.UpdatedAt)
	return mapPGError(err)
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&total); err != nil {
		return nil, 0, mapPGError(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+doctorCols+` FROM doctor ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapPGError(err)
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, d)
	}
	return doctors, total, rows.Err()
}

// -- Hospital repository --

type hospitalRepoPG struct {
	pool *pgxpool.Pool
}

func NewHospitalRepo(pool *pgxpool.Pool) HospitalRepository {
	return &hospitalRepoPG{pool: pool}
}

const hospitalCols = `id, name, type, registration_number, contact_number, email, address,
	wallet_address, content_hash, ledger_tx_id, ledger_mirrored, created_at, updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	h := &Hospital{}
	err := row.Scan(
		&h.ID, &h.Name, &h.Type, &h.RegistrationNumber, &h.ContactNumber, &h.Email, &h.Address,
		&h.WalletAddress, &h.ContentHash, &h.LedgerTxID, &h.LedgerMirrored, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return h, nil
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO hospital (id, name, type, registration_number, contact_number, email, address,
			wallet_address, content_hash, ledger_tx_id, ledger_mirrored)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		h.ID, h.Name, h.Type, h.RegistrationNumber, h.ContactNumber, h.Email, h.Address,
		h.WalletAddress, h.ContentHash, h.LedgerTxID, h.LedgerMirrored,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return mapPGError(err)
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(r.pool.QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospital WHERE id = $1`, id))
}

func (r *hospitalRepoPG) GetByRegistrationNumber(ctx context.Context, regNo string) (*Hospital, error) {
	return scanHospital(r.pool.QueryRow(ctx,
		`SELECT `+hospitalCols+` FROM hospital WHERE registration_number = $1`, regNo))
}

func (r *hospitalRepoPG) Update(ctx context.Context, h *Hospital) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE hospital
		SET name=$2, type=$3, contact_number=$4, address=$5, wallet_address=$6, content_hash=$7,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.Name, h.Type, h.ContactNumber, h.Address, h.WalletAddress, h.ContentHash,
	).Scan(&h.UpdatedAt)
	return mapPGError(err)
}

func (r *hospitalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM hospital WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *hospitalRepoPG) List(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM hospital`).Scan(&total); err != nil {
		return nil, 0, mapPGError(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+hospitalCols+` FROM hospital ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapPGError(err)
	}
	defer rows.Close()

	var hospitals []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		hospitals = append(hospitals, h)
	}
	return hospitals, total, rows.Err()
}
