// Command migrate inspects and changes the bot database schema.
//
//	migrate [-db DSN] status
//	migrate [-db DSN] migrate
//	migrate [-db DSN] rollback [version]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/RuKapSan/OpenAITGBot/internal/config"
	"github.com/RuKapSan/OpenAITGBot/internal/logging"
	"github.com/RuKapSan/OpenAITGBot/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	dsn := flag.String("db", cfg.DatabaseURL, "SQLite DSN")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-db DSN] status|migrate|rollback [version]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.Init(cfg.LogLevel)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), *dsn, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dsn, command string, args []string) error {
	db, err := store.OpenDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	m := store.NewMigrator(db, store.Migrations)

	switch command {
	case "status":
		states, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED AT")
		for _, s := range states {
			applied := "pending"
			if s.Applied && s.AppliedAt != nil {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Description, applied)
		}
		return w.Flush()
	case "migrate":
		n, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", n)
	case "rollback":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		n, err := m.Rollback(ctx, target)
		if err != nil {
			return err
		}
		fmt.Printf("reverted %d migration(s)\n", n)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
