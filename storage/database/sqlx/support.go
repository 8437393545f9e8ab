package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/support"
)

const supportColumns = "id, user_id, subject, message, status, admin_reply, replied_by, replied_at, created_at, updated_at"

type supportRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	Subject    string         `db:"subject"`
	Message    string         `db:"message"`
	Status     string         `db:"status"`
	AdminReply string         `db:"admin_reply"`
	RepliedBy  sql.NullString `db:"replied_by"`
	RepliedAt  null.Time      `db:"replied_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func packSupport(m support.Message) supportRow {
	return supportRow{
		ID:         m.ID,
		UserID:     m.UserID,
		Subject:    m.Subject,
		Message:    m.Message,
		Status:     m.Status,
		AdminReply: m.AdminReply,
		RepliedBy:  nullUUID(m.RepliedBy),
		RepliedAt:  m.RepliedAt,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func (row supportRow) unpack() support.Message {
	m := support.Message{
		ID:         row.ID,
		UserID:     row.UserID,
		Subject:    row.Subject,
		Message:    row.Message,
		Status:     row.Status,
		AdminReply: row.AdminReply,
		RepliedBy:  row.RepliedBy.String,
		RepliedAt:  row.RepliedAt,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if m.RepliedAt.Valid {
		m.RepliedAt.Time = m.RepliedAt.Time.UTC()
	}
	return m
}

type supportRepository struct {
	repo
}

var _ support.Repository = (*supportRepository)(nil)

func NewSupportRepository(db *sqlx.DB) support.Repository {
	return &supportRepository{repo{db: db}}
}

func (r supportRepository) CreateMessage(ctx context.Context, m support.Message, exec ...core.DBExecutor) (support.Message, error) {
	q := `INSERT INTO support_messages (` + supportColumns + `) VALUES
		(:id, :user_id, :subject, :message, :status, :admin_reply, :replied_by, :replied_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packSupport(m)); err != nil {
		return support.Message{}, errors.Wrap(err, "inserting support message")
	}
	return m, nil
}

func (r supportRepository) GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (support.Message, error) {
	if !validID(id) {
		return support.Message{}, support.ErrNotFound
	}
	var row supportRow
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, "SELECT "+supportColumns+" FROM support_messages WHERE id = $1", id); err != nil {
		return support.Message{}, trapNoRowsErr(err, support.ErrNotFound, "finding support message")
	}
	return row.unpack(), nil
}

func supportFilter(filter support.QueryFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	return w
}

func (r supportRepository) QueryMessages(ctx context.Context, filter support.QueryFilter, exec ...core.DBExecutor) ([]support.Message, error) {
	w := supportFilter(filter)
	var rows []supportRow
	e := r.getExec(exec)
	q := "SELECT " + supportColumns + " FROM support_messages" + w.String() + " ORDER BY created_at DESC"
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying support messages")
	}
	msgs := make([]support.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.unpack())
	}
	return msgs, nil
}

func (r supportRepository) CountMessages(ctx context.Context, filter support.QueryFilter, exec ...core.DBExecutor) (int, error) {
	w := supportFilter(filter)
	var n int
	e := r.getExec(exec)
	if err := sqlx.GetContext(ctx, e, &n, e.Rebind("SELECT COUNT(*) FROM support_messages"+w.String()), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting support messages")
	}
	return n, nil
}

func (r supportRepository) UpdateMessage(ctx context.Context, m support.Message, exec ...core.DBExecutor) (support.Message, error) {
	q := `UPDATE support_messages SET status = :status, admin_reply = :admin_reply, replied_by = :replied_by,
		replied_at = :replied_at, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packSupport(m))
	if err != nil {
		return support.Message{}, errors.Wrap(err, "updating support message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return support.Message{}, support.ErrNotFound
	}
	return m, nil
}
