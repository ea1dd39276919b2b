// Command gardenbase runs the gardening backend
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/gardenbase/config"
	"github.com/relabs-tech/gardenbase/core/backend"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/garden"
)

var (
	distributeEvery time.Duration
	printSQL        bool
	sqlDriver       string
	sqlSchema       string
)

var rootCmd = &cobra.Command{
	Use:   "gardenbase",
	Short: "Data backend of the gardening app",
	Long: `gardenbase serves the tables of the gardening app over a generic REST API and
distributes pending email notifications. It is configured through the environment,
see the config package for the variables.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	RunE:  serve,
}

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Send pending notifications once",
	RunE:  distribute,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the table declarations",
	RunE:  tables,
}

func init() {
	serveCmd.Flags().DurationVar(&distributeEvery, "distribute-every", 0,
		"distribute pending notifications in the background at this interval (0 disables)")
	tablesCmd.Flags().BoolVar(&printSQL, "sql", false, "print CREATE TABLE statements instead of the declarations")
	tablesCmd.Flags().StringVar(&sqlDriver, "driver", csql.DriverPostgres, "SQL dialect, postgres or sqlite3")
	tablesCmd.Flags().StringVar(&sqlSchema, "schema", "gardenbase", "schema of the tables")
	rootCmd.AddCommand(serveCmd, distributeCmd, tablesCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := config.Load()
	if err != nil {
		return err
	}
	db, err := c.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	verifier, err := c.Verifier()
	if err != nil {
		return err
	}
	notifier := c.Notifier()
	if closer, ok := notifier.(io.Closer); ok {
		defer closer.Close()
	}

	router := mux.NewRouter()
	b := backend.New(&backend.Builder{
		DB:           db,
		Registry:     garden.Registry(),
		Router:       router,
		Verifier:     verifier,
		Notifier:     notifier,
		CreateTables: true,
	})
	garden.Install(b)

	if distributeEvery > 0 {
		mailer, err := c.Mailer(ctx)
		if err != nil {
			return err
		}
		go distributeLoop(ctx, garden.NewDistributor(b.Gateway(), mailer), distributeEvery)
	}

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(c.Port),
		Handler: handlers.CombinedLoggingHandler(logrus.StandardLogger().Writer(), router),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Default().Infoln("listen on port", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func distributeLoop(ctx context.Context, d *garden.Distributor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Run(ctx); err != nil {
				logger.Default().WithError(err).Errorln("Error 4774: distribution failed")
			}
		}
	}
}

func distribute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := config.Load()
	if err != nil {
		return err
	}
	db, err := c.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	r := garden.Registry()
	if err := r.CreateTables(ctx, db); err != nil {
		return err
	}
	mailer, err := c.Mailer(ctx)
	if err != nil {
		return err
	}
	report, err := garden.NewDistributor(gateway.New(db, r), mailer).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report)
	return nil
}

func tables(cmd *cobra.Command, args []string) error {
	if !printSQL {
		_, err := cmd.OutOrStdout().Write(garden.TablesYAML())
		return err
	}
	if sqlDriver != csql.DriverPostgres && sqlDriver != csql.DriverSQLite {
		return fmt.Errorf("unknown driver %s", sqlDriver)
	}
	schema := sqlSchema
	if sqlDriver == csql.DriverSQLite {
		schema = "main"
	}
	db := &csql.DB{Schema: schema, Driver: sqlDriver}
	for _, statement := range garden.Registry().CreateStatements(db) {
		fmt.Fprintln(cmd.OutOrStdout(), statement)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
