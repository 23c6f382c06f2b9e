package repo

import (
	"context"
	"time"

	"sourceline/internal/transport"
)

// EmailLogRow is one stored delivery attempt.
type EmailLogRow struct {
	ID        int64  `json:"id"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	SentAt    string `json:"sent_at"`
}

// RecordEmail implements transport.EmailRecorder.
func (r Repo) RecordEmail(ctx context.Context, e transport.EmailLogEntry) error {
	sentAt := e.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO email_log(to_addr,subject,body,message_id,status,error,sent_at) VALUES (?,?,?,?,?,?,?)`,
		e.To, nullable(e.Subject), nullable(e.Body), nullable(e.MessageID), e.Status, nullable(e.Error), sentAt.UTC().Format(time.RFC3339))
	return err
}

// ListEmailLog returns the newest delivery attempts first.
func (r Repo) ListEmailLog(ctx context.Context, limit int) ([]EmailLogRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,to_addr,COALESCE(subject,''),COALESCE(message_id,''),status,COALESCE(error,''),sent_at FROM email_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []EmailLogRow{}
	for rows.Next() {
		var row EmailLogRow
		if err := rows.Scan(&row.ID, &row.To, &row.Subject, &row.MessageID, &row.Status, &row.Error, &row.SentAt); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}
