package sqldb_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/store/sqldb"
)

func runPostgres(t *testing.T) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "intake",
			"POSTGRES_PASSWORD": "intake",
			"POSTGRES_DB":       "intake",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://intake:intake@%s:%s/intake?sslmode=disable", host, port.Port())
	cleanup := func() { _ = c.Terminate(ctx) }
	return dsn, cleanup
}

func openPostgres(t *testing.T, dsn string) *sqldb.Store {
	t.Helper()
	// The listening port opens before the server accepts queries.
	var (
		s   *sqldb.Store
		err error
	)
	for i := 0; i < 20; i++ {
		s, err = sqldb.Open(context.Background(), sqldb.DriverPostgres, dsn)
		if err == nil {
			return s
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("open postgres: %v", err)
	return nil
}

func TestPostgresIntegration_LedgerLifecycle(t *testing.T) {
	dsn, cleanup := runPostgres(t)
	defer cleanup()

	s := openPostgres(t, dsn)
	defer s.Close()
	ctx := context.Background()

	o := intake.NewOrchestrator(s)
	o.Atomic = true

	res, err := o.Log(ctx, intake.LogCommand{
		Date:     intake.MustParseDate("2026-02-03"),
		MealType: intake.MealBreakfast,
		Items:    []intake.LogItem{{Name: "banana", Calories: decimal.NewFromInt(105)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "105.00", res.TotalCalories.StringFixed(2))

	cal := decimal.NewFromInt(450)
	upd, err := o.Update(ctx, intake.UpdateCommand{EntryID: res.EntryIDs[0], Patch: intake.EntryPatch{Calories: &cal}})
	require.NoError(t, err)
	assert.Equal(t, "450.00", upd.TotalCalories.StringFixed(2))

	del, err := o.Delete(ctx, res.EntryIDs[0])
	require.NoError(t, err)
	assert.True(t, del.TotalCalories.IsZero())

	_, err = o.Delete(ctx, res.EntryIDs[0])
	assert.True(t, intake.IsNotFound(err))
}

func TestPostgresIntegration_ConcurrentIncrements(t *testing.T) {
	dsn, cleanup := runPostgres(t)
	defer cleanup()

	s := openPostgres(t, dsn)
	defer s.Close()
	ctx := context.Background()
	d := intake.MustParseDate("2026-02-03")

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, d, decimal.RequireFromString("0.25"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := s.Total(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "16.00", total.StringFixed(2))
}

func TestPostgresIntegration_ReconcileHoldsOffLedgerWrites(t *testing.T) {
	dsn, cleanup := runPostgres(t)
	defer cleanup()

	s := openPostgres(t, dsn)
	defer s.Close()
	ctx := context.Background()
	d := intake.MustParseDate("2026-02-03")

	o := intake.NewOrchestrator(s)
	o.Atomic = true
	_, err := o.Log(ctx, intake.LogCommand{
		Date:     d,
		MealType: intake.MealLunch,
		Items:    []intake.LogItem{{Name: "rice", Calories: decimal.NewFromInt(100)}},
	})
	require.NoError(t, err)

	// GIVEN: A transaction holding the ledger lock
	locked := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.WithTx(ctx, func(tx intake.Store) error {
			if err := tx.(intake.LedgerLocker).LockLedger(ctx); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-txDone:
		t.Fatalf("lock transaction ended early: %v", err)
	}

	// WHEN: A mutation runs concurrently
	logDone := make(chan error, 1)
	go func() {
		_, err := o.Log(ctx, intake.LogCommand{
			Date:     d,
			MealType: intake.MealLunch,
			Items:    []intake.LogItem{{Name: "beans", Calories: decimal.NewFromInt(50)}},
		})
		logDone <- err
	}()

	// THEN: It cannot commit until the lock is released
	select {
	case err := <-logDone:
		t.Fatalf("mutation committed while the ledger was locked: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-logDone)

	rep, err := intake.NewReconciler(s).ReconcileDate(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, rep.Repairs)
	total, err := s.Total(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "150.00", total.StringFixed(2))
}
