package db

import (
	"database/sql"
	"strconv"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// InsertClaim stores a new claim and sets c.ID.
func InsertClaim(q Querier, c *claim.Claim) error {
	result, err := q.Exec(`
		INSERT INTO claims (title, reference_number, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, c.Title, toNullString(c.ReferenceNumber), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return dbError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return dbError(err)
	}
	c.ID = id
	return nil
}

// GetClaim retrieves a claim by id.
func GetClaim(q Querier, id int64) (*claim.Claim, error) {
	row := q.QueryRow(`
		SELECT id, title, reference_number, created_at, updated_at
		FROM claims
		WHERE id = ?
	`, id)

	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("claim", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, dbError(err)
	}
	return c, nil
}

// ListClaims returns claims newest first.
func ListClaims(q Querier, limit, offset int) ([]*claim.Claim, error) {
	rows, err := q.Query(`
		SELECT id, title, reference_number, created_at, updated_at
		FROM claims
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	claims := []*claim.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, dbError(err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return claims, nil
}

// CountClaims returns the total number of claims.
func CountClaims(q Querier) (int, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM claims`).Scan(&n); err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func scanClaim(row scanner) (*claim.Claim, error) {
	var (
		c   claim.Claim
		ref sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Title, &ref, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ReferenceNumber = fromNullString(ref)
	return &c, nil
}
