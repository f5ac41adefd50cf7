// Пакет repository — слой доступа к метаданным контента в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (slug уже занят).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrTransient — временная ошибка хранилища, операцию можно повторить.
	ErrTransient = errors.New("временная ошибка хранилища")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner — источник транзакций (*pgxpool.Pool).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool — пул, пригодный и для запросов, и для транзакций.
type Pool interface {
	DBTX
	TxBeginner
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db TxBeginner
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db TxBeginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return wrap("ошибка начала транзакции", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap("ошибка коммита транзакции", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// transientCodes — SQLSTATE, после которых повтор имеет смысл.
var transientCodes = map[string]bool{
	pgerrcode.SerializationFailure: true, // 40001
	pgerrcode.DeadlockDetected:     true, // 40P01
	pgerrcode.AdminShutdown:        true, // 57P01
	pgerrcode.CrashShutdown:        true, // 57P02
	pgerrcode.CannotConnectNow:     true, // 57P03
}

// IsTransient классифицирует ошибку как временную: потеря соединения,
// таймаут, конфликт сериализации, перезапуск сервера.
// Ошибки, уже помеченные ErrTransient, тоже временные.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) || transientCodes[pgErr.Code]
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// wrap оборачивает ошибку драйвера сообщением и, для временных ошибок,
// маркером ErrTransient.
func wrap(msg string, err error) error {
	if IsTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%s: %w: %w", msg, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
