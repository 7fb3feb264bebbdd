package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MessageRow is one persisted chat message as replayed for offline
// sync. Timestamps stay in the wire format; is_group is numeric in the
// database and widened to bool on scan.
type MessageRow struct {
	From      int64
	To        int64
	Timestamp string
	Text      string
	MsgType   string
	IsGroup   bool
}

// InsertMessage persists one routed message. ts is the server-stamped
// wire-format timestamp, which also appears on the relayed frames.
func (db *DB) InsertMessage(ctx context.Context, from, to int64, ts, text, msgType string, isGroup bool) error {
	return db.withTx(ctx, "insert_message", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_message(?, ?, ?, ?, ?, ?)",
			from, to, ts, text, msgType, boolToInt(isGroup))
		return err
	})
}

// SyncMessages returns the messages addressed to a user since their
// previous login, in storage order.
func (db *DB) SyncMessages(ctx context.Context, userID int64, lastLogin string) ([]MessageRow, error) {
	var rows []MessageRow
	err := db.withTx(ctx, "query_sync_message", func(tx *sqlx.Tx) error {
		res, err := tx.QueryContext(ctx, "CALL query_sync_message(?, ?)", userID, lastLogin)
		if err != nil {
			return err
		}
		defer res.Close()
		for res.Next() {
			var r MessageRow
			var isGroup int
			if err := res.Scan(&r.From, &r.To, &r.Timestamp, &r.Text, &r.MsgType, &isGroup); err != nil {
				return err
			}
			r.IsGroup = isGroup != 0
			rows = append(rows, r)
		}
		return res.Err()
	})
	return rows, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
