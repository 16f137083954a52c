package db

import (
	"context"
	"database/sql"
	"time"
)

// ChatRow is one recorded chat message.
type ChatRow struct {
	Platform    string    `json:"platform"`
	Handle      string    `json:"chat_handle"`
	MessageID   string    `json:"message_id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
}

// InsertChatMessage stores r and reports whether a new row was written. A message id
// already recorded for the platform is ignored.
func InsertChatMessage(ctx context.Context, db *sql.DB, r ChatRow) (bool, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO chat_messages(platform, chat_handle, message_id, author, text, published_at)
		VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT (platform, message_id) DO NOTHING`,
		r.Platform, r.Handle, r.MessageID, r.Author, r.Text, r.PublishedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecentChatMessages returns up to limit messages for handle, newest first.
func RecentChatMessages(ctx context.Context, db *sql.DB, handle string, limit int) ([]ChatRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT platform, chat_handle, message_id, COALESCE(author,''), COALESCE(text,''), published_at
		FROM chat_messages WHERE chat_handle=$1 ORDER BY published_at DESC, id DESC LIMIT $2`, handle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatRow
	for rows.Next() {
		var r ChatRow
		var pub sql.NullTime
		if err := rows.Scan(&r.Platform, &r.Handle, &r.MessageID, &r.Author, &r.Text, &pub); err != nil {
			return nil, err
		}
		r.PublishedAt = pub.Time
		out = append(out, r)
	}
	return out, rows.Err()
}
