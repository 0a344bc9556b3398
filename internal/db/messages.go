package db

import (
	"context"
	"errors"
	"time"
)

// ClaimMessage records a webhook message as processed. It reports false when
// the message was already claimed.
func (d *DB) ClaimMessage(ctx context.Context, clientID string, messageID int64) (bool, error) {
	if clientID == "" || messageID <= 0 {
		return false, errors.New("client id and message id required")
	}
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO processed_messages (client_id, message_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, message_id) DO NOTHING
	`, clientID, messageID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseMessage forgets a claim so a redelivery of the message is processed.
func (d *DB) ReleaseMessage(ctx context.Context, clientID string, messageID int64) error {
	if clientID == "" || messageID <= 0 {
		return errors.New("client id and message id required")
	}
	_, err := d.conn.ExecContext(ctx, `DELETE FROM processed_messages WHERE client_id = $1 AND message_id = $2`, clientID, messageID)
	return err
}

// PruneProcessedMessages drops claims older than the cutoff.
func (d *DB) PruneProcessedMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM processed_messages WHERE processed_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
