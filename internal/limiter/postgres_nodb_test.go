package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

/************ fake pgx ************/
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	qrErr         error
	qrBlockedTill *time.Time
	qrFailsRet    int

	lastArgs    []any
	lastExecSQL string
	execErr     error
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	f.lastArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastArgs = args
	switch {
	case strings.Contains(sql, "SELECT blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			if f.qrBlockedTill != nil {
				*(dest[0].(*time.Time)) = *f.qrBlockedTill
			} else {
				*(dest[0].(*time.Time)) = time.Unix(0, 0) // 'epoch'
			}
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.qrFailsRet
			return nil
		}}
	default:
		return fakeRow{scan: func(dest ...any) error { return errors.New("unexpected query") }}
	}
}

func newTestPG(fp *fakePool, window time.Duration, maxFails int, blockFor time.Duration, now time.Time) *PG {
	l := NewPG(fp, window, maxFails, blockFor)
	l.now = func() time.Time { return now }
	return l
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAllow_NoRow_Allows(t *testing.T) {
	fp := &fakePool{qrErr: pgx.ErrNoRows}
	l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

	ok, dur, err := l.Allow(context.Background(), "a@acme.com", []byte("h"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("Allow no-row: ok=%v dur=%v err=%v", ok, dur, err)
	}
	if fp.lastArgs[0] != "a@acme.com" {
		t.Fatalf("email not passed: %v", fp.lastArgs)
	}
}

func TestAllow_BlockedUntilFuture(t *testing.T) {
	fut := testNow.Add(10 * time.Minute)
	fp := &fakePool{qrBlockedTill: &fut}
	l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

	ok, dur, err := l.Allow(context.Background(), "a@acme.com", []byte("h"))
	if err != nil || ok || dur != 10*time.Minute {
		t.Fatalf("Allow blocked: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestAllow_PastOrEpoch_Allows(t *testing.T) {
	past := testNow.Add(-time.Minute)
	for _, bt := range []*time.Time{&past, nil} {
		fp := &fakePool{qrBlockedTill: bt}
		l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

		ok, dur, err := l.Allow(context.Background(), "a@acme.com", []byte("h"))
		if err != nil || !ok || dur != 0 {
			t.Fatalf("Allow past: ok=%v dur=%v err=%v", ok, dur, err)
		}
	}
}

func TestAllow_DBError_Propagates(t *testing.T) {
	fp := &fakePool{qrErr: errors.New("db boom")}
	l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

	ok, _, err := l.Allow(context.Background(), "a@acme.com", []byte("h"))
	if err == nil || ok {
		t.Fatalf("want error propagate, got ok=%v err=%v", ok, err)
	}
}

func TestSuccess_ExecError_Propagates(t *testing.T) {
	fp := &fakePool{execErr: errors.New("exec fail")}
	l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

	if err := l.Success(context.Background(), "a@acme.com", []byte("h")); err == nil {
		t.Fatalf("want exec error")
	}
}

func TestSuccess_OK(t *testing.T) {
	fp := &fakePool{}
	l := newTestPG(fp, 15*time.Minute, 5, 15*time.Minute, testNow)

	if err := l.Success(context.Background(), "a@acme.com", []byte("h")); err != nil {
		t.Fatalf("success err: %v", err)
	}
	if !strings.Contains(fp.lastExecSQL, "INSERT INTO login_attempts") {
		t.Fatalf("unexpected exec: %s", fp.lastExecSQL)
	}
}

func TestFailure_Increments_NoBlock(t *testing.T) {
	fp := &fakePool{qrFailsRet: 2}
	l := newTestPG(fp, 5*time.Minute, 5, 15*time.Minute, testNow)

	blocked, dur, err := l.Failure(context.Background(), "a@acme.com", []byte("h"))
	if err != nil || blocked || dur != 0 {
		t.Fatalf("Failure no block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if fp.lastExecSQL != "" {
		t.Fatalf("must not touch blocked_until below threshold, exec=%s", fp.lastExecSQL)
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	fp := &fakePool{qrFailsRet: 5}
	l := newTestPG(fp, 5*time.Minute, 5, 10*time.Minute, testNow)

	blocked, dur, err := l.Failure(context.Background(), "a@acme.com", []byte("h"))
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("Failure block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if !strings.Contains(fp.lastExecSQL, "UPDATE login_attempts SET blocked_until") {
		t.Fatalf("must update blocked_until, exec=%s", fp.lastExecSQL)
	}
	if got := fp.lastArgs[2].(time.Time); !got.Equal(testNow.Add(10 * time.Minute)) {
		t.Fatalf("blocked_until = %v", got)
	}
}

func TestFailure_DBErrorOnReturning(t *testing.T) {
	fp := &fakePool{qrErr: errors.New("query error")}
	l := newTestPG(fp, 5*time.Minute, 5, 10*time.Minute, testNow)

	if _, _, err := l.Failure(context.Background(), "a@acme.com", []byte("h")); err == nil {
		t.Fatalf("want error from returning fail_count")
	}
}

func TestHashIP_Determinism(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:456")
	c := HashIP("5.6.7.8:321")
	if string(a) != string(b) || string(a) == string(c) || len(a) != 32 {
		t.Fatalf("hash mismatch/len: %d", len(a))
	}
}

func TestNoop_NeverBlocks(t *testing.T) {
	var l Limiter = Noop{}
	for i := 0; i < 10; i++ {
		if blocked, _, _ := l.Failure(context.Background(), "a", nil); blocked {
			t.Fatal("noop blocked")
		}
	}
	if ok, _, _ := l.Allow(context.Background(), "a", nil); !ok {
		t.Fatal("noop denied")
	}
}
