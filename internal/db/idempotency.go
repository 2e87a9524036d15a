package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrKeyReused: тот же пользователь повторил ключ для другого объекта или команды.
var ErrKeyReused = errors.New("idempotency key reused for a different request")

// IdemKey: ключ идемпотентности. Ключи разных пользователей не пересекаются,
// Target фиксирует, к чему относилась первая попытка (id объекта, при необходимости с параметром).
type IdemKey struct {
	Scope   string
	ActorID string
	Key     string
	Target  string
}

// ClaimIdempotencyKey регистрирует ключ в транзакции.
// first=true, ключ новый, операцию надо выполнить и затем вызвать SetIdempotencyResult.
// first=false, ключ уже был, resultID содержит результат первой попытки.
// Тот же ключ с другим Target даёт ErrKeyReused.
// Параллельный вызов с тем же ключом ждёт на вставке, пока первая транзакция не завершится.
func ClaimIdempotencyKey(ctx context.Context, tx *sql.Tx, k IdemKey) (first bool, resultID string, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (scope, actor_id, key, target)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, actor_id, key) DO NOTHING`, k.Scope, k.ActorID, k.Key, k.Target)
	if err != nil {
		return false, "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if n == 1 {
		return true, "", nil
	}
	var target string
	err = tx.QueryRowContext(ctx, `
		SELECT target, result_id FROM idempotency_keys
		WHERE scope = $1 AND actor_id = $2 AND key = $3`, k.Scope, k.ActorID, k.Key).Scan(&target, &resultID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", ErrNotFound
	}
	if err != nil {
		return false, "", err
	}
	if target != k.Target {
		return false, "", ErrKeyReused
	}
	return false, resultID, nil
}

func SetIdempotencyResult(ctx context.Context, tx *sql.Tx, k IdemKey, resultID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE idempotency_keys SET result_id = $4
		WHERE scope = $1 AND actor_id = $2 AND key = $3`, k.Scope, k.ActorID, k.Key, resultID)
	return err
}
