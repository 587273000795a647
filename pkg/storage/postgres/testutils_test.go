package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestContainer starts a PostgreSQL container and returns its
// connection string. The container is terminated when the test ends.
func setupTestContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("rca_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	return connStr
}

// setupTestDatabase connects to a fresh container with migrations applied.
func setupTestDatabase(t *testing.T, ctx context.Context) *Database {
	t.Helper()

	connStr := setupTestContainer(t, ctx)

	db, err := NewDatabase(ctx, &DatabaseConfig{
		ConnectionString: connStr,
		MaxConnections:   5,
		ConnectTimeout:   30 * time.Second,
	}, nil)
	require.NoError(t, err, "Should connect to test database")
	t.Cleanup(db.Close)

	require.NoError(t, db.MigrateToLatest(ctx))
	return db
}

// createFilmTable creates a film table whose column names drift from the
// canonical ones, the way re-imported catalogs do.
func createFilmTable(t *testing.T, ctx context.Context, db *Database) {
	t.Helper()

	statements := []string{
		`CREATE TABLE films (
			id SERIAL PRIMARY KEY,
			titre TEXT,
			date_immatriculation DATE,
			type_de_metrage TEXT,
			genre TEXT,
			budget TEXT,
			synopsis_tmdb TEXT,
			production TEXT,
			"Nationalité" TEXT,
			realisateurs TEXT,
			producteurs TEXT,
			producteurs_delegues TEXT,
			acteurs TEXT,
			plan_financement TEXT
		)`,
		`INSERT INTO films (titre, date_immatriculation, genre, budget, production, "Nationalité", realisateurs, producteurs, producteurs_delegues, acteurs, plan_financement) VALUES
			('Le Fabuleux Destin d''Amélie Poulain', '2001-04-25', 'Comédie', '1 500 000 €', 'Victoires Productions', 'France', 'Jean-Pierre Jeunet', 'Claudie Ossard', NULL, 'Audrey Tautou', 'rca.frontoffice/documentActe?idDocument=abcdef123456'),
			('le fabuleux destin d''amélie poulain ', '2001-04-25', 'Comédie', '1 500 000 €', 'Victoires Productions', 'France', 'Jean-Pierre Jeunet', 'Claudie Ossard', NULL, 'Audrey Tautou', 'rca.frontoffice/documentActe?idDocument=abcdef123456'),
			('Jaws', '1975-06-20', 'Thriller', '500 000 €', 'Universal', 'USA', 'Steven Spielberg', 'Richard D. Zanuck', NULL, 'Roy Scheider', 'nan'),
			('Back to the Future', '1985-07-03', 'Science-fiction', 'non communiqué', 'Amblin', 'USA', 'Robert Zemeckis', 'Steven Spielberg', NULL, 'Michael J. Fox', NULL),
			('Poltergeist', '1982-06-04', 'Horreur', '10 700 000', 'MGM', 'USA', 'Tobe Hooper', 'Frank Marshall', 'Steven Spielberg', 'JoBeth Williams', NULL)`,
	}

	for _, stmt := range statements {
		_, err := db.pool.Exec(ctx, stmt)
		require.NoError(t, err, "Failed to create film fixture")
	}
}
