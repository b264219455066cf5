package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	pg "notify-pipeline/internal/infra/adapter/persistence/postgres"
)

/* ─────────────────────────── 1. GetMany ─────────────────────────── */

func TestDedupCacheStore_GetMany(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("expires_at > now()")).
		WithArgs("delivery", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("fa", "1"))

	got, err := pg.NewDedupCacheStore(db).GetMany(context.Background(), "delivery", []string{"fa", "fb"})
	if err != nil {
		t.Fatalf("GetMany err=%v", err)
	}
	if got["fa"] != "1" || len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

/* ─────────────────────────── 2. SetMany ─────────────────────────── */

func TestDedupCacheStore_SetMany_SingleStatement(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("FROM unnest($2::text[], $3::text[])")).
		WithArgs("body", sqlmock.AnyArg(), sqlmock.AnyArg(), float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := pg.NewDedupCacheStore(db).SetMany(context.Background(), "body",
		map[string]string{"a": "1", "b": "2", "c": "3"}, time.Hour)
	if err != nil {
		t.Fatalf("SetMany err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

/* ─────────────────────────── 3. DeleteMany / Sweep ─────────────────────────── */

func TestDedupCacheStore_DeleteMany(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dedup_cache WHERE namespace = $1 AND key = ANY($2)")).
		WithArgs("delivery", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := pg.NewDedupCacheStore(db).DeleteMany(context.Background(), "delivery", []string{"fa", "fb"}); err != nil {
		t.Fatalf("DeleteMany err=%v", err)
	}
}

func TestDedupCacheStore_Sweep(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("WHERE expires_at <= now()")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := pg.NewDedupCacheStore(db).Sweep(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
