package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/his/internal/platform/db"
)

const pgMaxAttempts = 3

// PostgresStore keeps each collection in its own table. Transactions run at
// SERIALIZABLE and are retried on serialization failure.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	var err error
	for attempt := 1; attempt <= pgMaxAttempts; attempt++ {
		var fnErr error
		err = db.RunInTx(ctx, s.pool, opts, func(ctx context.Context) error {
			fnErr = fn(ctx)
			return fnErr
		})
		if err == nil {
			return nil
		}
		if db.IsSerializationFailure(err) && attempt < pgMaxAttempts {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		break
	}
	return unavailable("transaction", err)
}

const (
	patientCols      = `id, name, age, gender, phone, registered_at, status, symptoms, diagnosis`
	medicationCols   = `id, name, spec, unit, price::text, category, stock`
	prescriptionCols = `id, patient_id, prescriber_id, created_at, status, dispensed_at`
)

// Snapshot reads every table inside one REPEATABLE READ transaction, or the
// caller's transaction when ctx already carries one.
func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := db.RunInTx(ctx, s.pool, opts, func(ctx context.Context) error {
		var err error
		snap, err = s.readSnapshot(ctx)
		return err
	})
	if err != nil {
		return nil, unavailable("snapshot", err)
	}
	return snap, nil
}

func (s *PostgresStore) readSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()
	q := s.conn(ctx)

	rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patient`)
	if err != nil {
		return nil, unavailable("select patients", err)
	}
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.RegisteredAt, &p.Status, &p.Symptoms, &p.Diagnosis); err != nil {
			rows.Close()
			return nil, unavailable("scan patient", err)
		}
		snap.Patients[p.ID] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("select patients", err)
	}

	rows, err = q.Query(ctx, `SELECT `+medicationCols+` FROM medication`)
	if err != nil {
		return nil, unavailable("select medications", err)
	}
	for rows.Next() {
		var m Medication
		var price string
		if err := rows.Scan(&m.ID, &m.Name, &m.Spec, &m.Unit, &price, &m.Category, &m.Stock); err != nil {
			rows.Close()
			return nil, unavailable("scan medication", err)
		}
		if m.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return nil, unavailable("parse price", err)
		}
		snap.Medications[m.ID] = &m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("select medications", err)
	}

	rows, err = q.Query(ctx, `SELECT `+prescriptionCols+` FROM prescription`)
	if err != nil {
		return nil, unavailable("select prescriptions", err)
	}
	for rows.Next() {
		var rx Prescription
		if err := rows.Scan(&rx.ID, &rx.PatientID, &rx.PrescriberID, &rx.CreatedAt, &rx.Status, &rx.DispensedAt); err != nil {
			rows.Close()
			return nil, unavailable("scan prescription", err)
		}
		snap.Prescriptions[rx.ID] = &rx
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("select prescriptions", err)
	}

	rows, err = q.Query(ctx, `SELECT prescription_id, medication_id, name, dosage, quantity
		FROM prescription_item ORDER BY prescription_id, line_no`)
	if err != nil {
		return nil, unavailable("select prescription items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rxID string
		var item LineItem
		if err := rows.Scan(&rxID, &item.MedicationID, &item.Name, &item.Dosage, &item.Quantity); err != nil {
			return nil, unavailable("scan prescription item", err)
		}
		if rx, ok := snap.Prescriptions[rxID]; ok {
			rx.Items = append(rx.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select prescription items", err)
	}
	return snap, nil
}

func (s *PostgresStore) PutPatient(ctx context.Context, p *Patient) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO patient (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name=$2, age=$3, gender=$4, phone=$5, registered_at=$6,
			status=$7, symptoms=$8, diagnosis=$9`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.RegisteredAt, p.Status, p.Symptoms, p.Diagnosis)
	return unavailable("upsert patient", err)
}

func (s *PostgresStore) PutMedication(ctx context.Context, m *Medication) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO medication (id, name, spec, unit, price, category, stock)
		VALUES ($1,$2,$3,$4,$5::numeric,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name=$2, spec=$3, unit=$4, price=$5::numeric, category=$6, stock=$7`,
		m.ID, m.Name, m.Spec, m.Unit, m.Price.String(), m.Category, m.Stock)
	return unavailable("upsert medication", err)
}

// PutPrescription replaces the header and every line item in one unit.
func (s *PostgresStore) PutPrescription(ctx context.Context, rx *Prescription) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription (`+prescriptionCols+`)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET
				patient_id=$2, prescriber_id=$3, created_at=$4, status=$5, dispensed_at=$6`,
			rx.ID, rx.PatientID, rx.PrescriberID, rx.CreatedAt, rx.Status, rx.DispensedAt); err != nil {
			return unavailable("upsert prescription", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM prescription_item WHERE prescription_id = $1`, rx.ID); err != nil {
			return unavailable("clear prescription items", err)
		}
		for i, item := range rx.Items {
			if _, err := q.Exec(ctx, `
				INSERT INTO prescription_item (prescription_id, line_no, medication_id, name, dosage, quantity)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				rx.ID, i+1, item.MedicationID, item.Name, item.Dosage, item.Quantity); err != nil {
				return unavailable(fmt.Sprintf("insert prescription item %d", i+1), err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) DeletePrescription(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM prescription WHERE id = $1`, id)
	return unavailable("delete prescription", err)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ Transactor = (*PostgresStore)(nil)
)
