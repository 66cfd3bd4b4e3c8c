package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/skredvarsel/garmin-web/internal/model"
)

// dateFormat is how start and next_charge_date are stored. ISO dates compare
// correctly as strings, which the due-date query relies on.
const dateFormat = "2006-01-02"

type AgreementStore struct {
	db *sql.DB
}

func NewAgreementStore(db *sql.DB) *AgreementStore {
	return &AgreementStore{db: db}
}

const agreementCols = `id, user_id, status, confirmation_url, created, start, next_charge_id, next_charge_date`

func scanAgreement(scanner interface{ Scan(...any) error }) (*model.Agreement, error) {
	var a model.Agreement
	var confirmationURL, nextChargeID sql.NullString
	var start, nextChargeDate string
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.Status, &confirmationURL,
		&a.Created, &start, &nextChargeID, &nextChargeDate,
	)
	if err != nil {
		return nil, err
	}
	if confirmationURL.Valid {
		a.ConfirmationURL = &confirmationURL.String
	}
	if nextChargeID.Valid {
		a.NextChargeID = &nextChargeID.String
	}
	if a.Start, err = time.Parse(dateFormat, start); err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	if a.NextChargeDate, err = time.Parse(dateFormat, nextChargeDate); err != nil {
		return nil, fmt.Errorf("parse next charge date: %w", err)
	}
	return &a, nil
}

// Create inserts an agreement record. The id must already be assigned by the
// payment provider.
func (s *AgreementStore) Create(a *model.Agreement) error {
	var confirmationURL, nextChargeID any
	if a.ConfirmationURL != nil {
		confirmationURL = *a.ConfirmationURL
	}
	if a.NextChargeID != nil {
		nextChargeID = *a.NextChargeID
	}
	_, err := s.db.Exec(
		`INSERT INTO agreements (id, user_id, status, confirmation_url, created, start, next_charge_id, next_charge_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Status, confirmationURL, a.Created.UTC(),
		a.Start.Format(dateFormat), nextChargeID, a.NextChargeDate.Format(dateFormat),
	)
	if err != nil {
		return fmt.Errorf("insert agreement: %w", err)
	}
	return nil
}

func (s *AgreementStore) GetByID(id string) (*model.Agreement, error) {
	row := s.db.QueryRow(`SELECT `+agreementCols+` FROM agreements WHERE id = ?`, id)
	a, err := scanAgreement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agreement: %w", err)
	}
	return a, nil
}

// GetLatestByUserID returns the user's most recently created agreement, or
// nil if the user never had one.
func (s *AgreementStore) GetLatestByUserID(userID int64) (*model.Agreement, error) {
	row := s.db.QueryRow(
		`SELECT `+agreementCols+` FROM agreements WHERE user_id = ? ORDER BY created DESC LIMIT 1`,
		userID,
	)
	a, err := scanAgreement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest agreement by user: %w", err)
	}
	return a, nil
}

func (s *AgreementStore) ListByUserID(userID int64) ([]*model.Agreement, error) {
	rows, err := s.db.Query(
		`SELECT `+agreementCols+` FROM agreements WHERE user_id = ? ORDER BY created DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agreements by user: %w", err)
	}
	defer rows.Close()
	return collectAgreements(rows)
}

// GetByUserIDAndStatus returns the user's agreement in the given status, or
// nil. The creation guard keeps at most one PENDING or ACTIVE agreement per
// user, so a single row is enough for those statuses.
func (s *AgreementStore) GetByUserIDAndStatus(userID int64, status model.AgreementStatus) (*model.Agreement, error) {
	row := s.db.QueryRow(
		`SELECT `+agreementCols+` FROM agreements WHERE user_id = ? AND status = ? ORDER BY created DESC LIMIT 1`,
		userID, status,
	)
	a, err := scanAgreement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agreement by user and status: %w", err)
	}
	return a, nil
}

// ListPending returns all agreements awaiting provider-side approval.
func (s *AgreementStore) ListPending() ([]*model.Agreement, error) {
	rows, err := s.db.Query(
		`SELECT `+agreementCols+` FROM agreements WHERE status = ?`,
		model.AgreementPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending agreements: %w", err)
	}
	defer rows.Close()
	return collectAgreements(rows)
}

// ListDue returns all active agreements whose next charge date is on or
// before the given day.
func (s *AgreementStore) ListDue(today time.Time) ([]*model.Agreement, error) {
	rows, err := s.db.Query(
		`SELECT `+agreementCols+` FROM agreements WHERE status = ? AND next_charge_date <= ?`,
		model.AgreementActive, today.Format(dateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("list due agreements: %w", err)
	}
	defer rows.Close()
	return collectAgreements(rows)
}

func collectAgreements(rows *sql.Rows) ([]*model.Agreement, error) {
	var agreements []*model.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}
	return agreements, nil
}

// SetActive transitions a PENDING agreement to ACTIVE and clears its
// confirmation URL. Returns false if the agreement was not PENDING, so a
// duplicate reconciliation is a no-op.
func (s *AgreementStore) SetActive(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE agreements SET status = ?, confirmation_url = NULL WHERE id = ? AND status = ?`,
		model.AgreementActive, id, model.AgreementPending,
	)
	if err != nil {
		return false, fmt.Errorf("set agreement active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetUnsubscribed transitions an ACTIVE agreement to UNSUBSCRIBED. Returns
// false if the agreement was not ACTIVE.
func (s *AgreementStore) SetUnsubscribed(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE agreements SET status = ? WHERE id = ? AND status = ?`,
		model.AgreementUnsubscribed, id, model.AgreementActive,
	)
	if err != nil {
		return false, fmt.Errorf("set agreement unsubscribed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetReactivated transitions an UNSUBSCRIBED agreement back to ACTIVE with a
// fresh next-charge descriptor. Returns false if the agreement was not
// UNSUBSCRIBED.
func (s *AgreementStore) SetReactivated(id, nextChargeID string, nextChargeDate time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE agreements SET status = ?, next_charge_id = ?, next_charge_date = ? WHERE id = ? AND status = ?`,
		model.AgreementActive, nextChargeID, nextChargeDate.Format(dateFormat),
		id, model.AgreementUnsubscribed,
	)
	if err != nil {
		return false, fmt.Errorf("reactivate agreement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateNextCharge records the provider's next-charge descriptor after a
// renewal.
func (s *AgreementStore) UpdateNextCharge(id, nextChargeID string, nextChargeDate time.Time) error {
	_, err := s.db.Exec(
		`UPDATE agreements SET next_charge_id = ?, next_charge_date = ? WHERE id = ?`,
		nextChargeID, nextChargeDate.Format(dateFormat), id,
	)
	if err != nil {
		return fmt.Errorf("update next charge: %w", err)
	}
	return nil
}

func (s *AgreementStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM agreements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agreement: %w", err)
	}
	return nil
}

// ReconcileAction is what a reconciliation pass decided to do with one
// agreement.
type ReconcileAction int

const (
	ReconcileNone ReconcileAction = iota
	ReconcileActivate
	ReconcileDelete
)

type ReconcileDecision struct {
	AgreementID string
	Action      ReconcileAction
}

// ApplyReconciliation commits a batch of reconciliation decisions in a single
// transaction, so readers never observe a half-updated batch. Activations are
// status-guarded and deletions are by id, which makes re-applying the same
// batch harmless.
func (s *AgreementStore) ApplyReconciliation(decisions []ReconcileDecision) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reconciliation tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range decisions {
		switch d.Action {
		case ReconcileActivate:
			_, err = tx.Exec(
				`UPDATE agreements SET status = ?, confirmation_url = NULL WHERE id = ? AND status = ?`,
				model.AgreementActive, d.AgreementID, model.AgreementPending,
			)
		case ReconcileDelete:
			_, err = tx.Exec(`DELETE FROM agreements WHERE id = ?`, d.AgreementID)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("apply reconciliation for %s: %w", d.AgreementID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation tx: %w", err)
	}
	return nil
}
