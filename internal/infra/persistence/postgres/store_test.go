package postgres_test

import (
	"context"
	"os"
	"testing"

	"roundcore/internal/infra/persistence/postgres"
	"roundcore/pkg/domain"
)

// The postgres store delegates all transaction semantics to the in-memory
// store, so this suite only verifies the snapshot round trip against a real
// server. Set ROUNDCORE_POSTGRES_TEST_DSN to run it.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ROUNDCORE_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("ROUNDCORE_POSTGRES_TEST_DSN not set")
	}
	return dsn
}

func TestStatePersistsAcrossReconnect(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	store, err := postgres.NewStore(dsn, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	var experiment domain.Experiment
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		configuration, err := tx.CreateExperimentConfiguration(domain.ExperimentConfiguration{
			Name:           "durable",
			ExperimentType: "goods",
			MaxGroupSize:   3,
		})
		if err != nil {
			return err
		}
		experiment, err = tx.CreateExperiment(domain.Experiment{
			Name:            "persisted run",
			ConfigurationID: configuration.ID,
			ExperimentType:  "goods",
		})
		return err
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}

	reopened, err := postgres.NewStore(dsn, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	restored, ok := reopened.GetExperiment(experiment.ID)
	if !ok {
		t.Fatalf("experiment not found after reconnect")
	}
	if restored.Name != "persisted run" {
		t.Fatalf("unexpected experiment after reconnect: %+v", restored)
	}
}
