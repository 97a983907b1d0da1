package ledger

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"auditkit/internal/logging"
	"auditkit/internal/store"

	"github.com/google/uuid"
)

var sampleAccounts = []struct{ code, name string }{
	{"1101", "صندوق"},
	{"1102", "بانک"},
	{"2101", "حساب‌های پرداختنی"},
	{"3101", "سرمایه"},
	{"4101", "فروش"},
	{"5101", "بهای تمام‌شده"},
	{"6101", "هزینه‌های اداری"},
}

var sampleDescriptions = []string{
	"خرید کالا",
	"فروش محصول",
	"پرداخت حقوق",
	"دریافت از مشتری",
	"پرداخت به تامین کننده",
	"هزینه اداری",
}

// sampleNamespace scopes the deterministic UUIDs of generated rows.
var sampleNamespace = uuid.MustParse("6f1d3c2a-9b1e-4e55-8c2f-6a4e0b7d9a10")

// Generate returns n journal lines that are identical for a given seed.
// Amounts mix uniform ranges with round figures, dates span 2023 including
// weekends, and roughly one line in fifty repeats an earlier document so
// duplicate checks have something to find.
func Generate(seed uint64, n int) []Transaction {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	out := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)

		if i > 0 && rng.IntN(50) == 0 {
			dup := out[rng.IntN(len(out))]
			dup.Id = id
			dup.Uuid = sampleUUID(seed, id)
			out = append(out, dup)
			continue
		}

		var amount float64
		switch rng.IntN(4) {
		case 0:
			amount = round2(100 + rng.Float64()*9900)
		case 1:
			amount = round2(10000 + rng.Float64()*90000)
		case 2:
			amount = math.Round(1000 + rng.Float64()*4000)
		default:
			amount = []float64{1000, 2000, 5000, 10000}[rng.IntN(4)]
		}

		acct := sampleAccounts[rng.IntN(len(sampleAccounts))]
		t := Transaction{
			Id:             id,
			DocumentDate:   start.AddDate(0, 0, rng.IntN(366)),
			DocumentNumber: 1000 + int64(i),
			AccountCode:    acct.code,
			AccountName:    acct.name,
			Description:    sampleDescriptions[rng.IntN(len(sampleDescriptions))],
			Uuid:           sampleUUID(seed, id),
		}
		if rng.Float64() > 0.5 {
			t.Debit = amount
		} else {
			t.Credit = amount
		}
		out = append(out, t)
	}
	return out
}

// GenerateChecks returns n issued checks for the given seed.
func GenerateChecks(seed uint64, n int) []CheckPayable {
	rng := rand.New(rand.NewPCG(seed+1, seed^0x5bd1e995))
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	out := make([]CheckPayable, 0, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		payee := rng.IntN(20) + 1
		out = append(out, CheckPayable{
			Id:          id,
			CheckNumber: strconv.Itoa(700000 + i),
			CheckAmount: round2(500 + rng.Float64()*50000),
			CheckDate:   start.AddDate(0, 0, rng.IntN(366)),
			PayeeCode:   fmt.Sprintf("V%03d", payee),
			PayeeName:   fmt.Sprintf("تامین کننده %d", payee),
			Uuid:        sampleUUID(seed+1, id),
		})
	}
	return out
}

func sampleUUID(seed uint64, id int64) string {
	return uuid.NewSHA1(sampleNamespace, []byte(fmt.Sprintf("%d/%d", seed, id))).String()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Seed writes txs and checks through s and commits. With reset, existing
// rows are removed first in the same transaction.
func Seed(ctx context.Context, s store.Session, txs []Transaction, checks []CheckPayable, reset bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "ledger.Seed")
	defer timer.Stop()

	if reset {
		for _, table := range []string{TableTransactions, TableCheckPayables} {
			if _, err := s.Execute(ctx, "DELETE FROM "+table); err != nil {
				s.Rollback()
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
	}

	recs := make([]store.Record, len(txs))
	for i, t := range txs {
		recs[i] = t.Record()
	}
	if err := s.BulkInsert(ctx, TableTransactions, recs); err != nil {
		s.Rollback()
		return err
	}

	recs = make([]store.Record, len(checks))
	for i, c := range checks {
		recs[i] = c.Record()
	}
	if err := s.BulkInsert(ctx, TableCheckPayables, recs); err != nil {
		s.Rollback()
		return err
	}

	if err := s.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	logging.Store("Seeded %d transactions and %d checks", len(txs), len(checks))
	return nil
}
