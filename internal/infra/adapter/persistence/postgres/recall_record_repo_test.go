package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"notify-pipeline/internal/domain/entity"
	pg "notify-pipeline/internal/infra/adapter/persistence/postgres"
)

/* ─────────────────────────── 1. Get ─────────────────────────── */

func TestRecallRecordRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want := &entity.RecallRecord{ID: 1, AppID: "hr", BodyID: 5, TaskID: "msg-1", RecalledAt: at, Success: true, AffectedCount: 3, RawResult: `{"errcode":0}`}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE app_id = $1 AND body_id = $2 AND task_id = $3")).
		WithArgs("hr", int64(5), "msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "app_id", "body_id", "task_id", "recalled_at", "success", "affected_count", "raw_result"}).
			AddRow(want.ID, want.AppID, want.BodyID, want.TaskID, want.RecalledAt, want.Success, want.AffectedCount, want.RawResult))

	got, err := pg.NewRecallRecordRepo(db).Get(context.Background(), entity.RecallKey{AppID: "hr", BodyID: 5, TaskID: "msg-1"})
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

/* ─────────────────────────── 2. Upsert ─────────────────────────── */

func TestRecallRecordRepo_Upsert_Accumulates(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := &entity.RecallRecord{AppID: "hr", BodyID: 5, TaskID: "msg-1", RecalledAt: at, Success: true, AffectedCount: 2, RawResult: "ok"}

	mock.ExpectQuery(regexp.QuoteMeta("affected_count = recall_records.affected_count + EXCLUDED.affected_count")).
		WithArgs("hr", int64(5), "msg-1", at, true, 2, "ok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "affected_count"}).AddRow(int64(8), 5))

	if err := pg.NewRecallRecordRepo(db).Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert err=%v", err)
	}
	if rec.ID != 8 || rec.AffectedCount != 5 {
		t.Fatalf("record = %+v, want id 8 affected 5", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
