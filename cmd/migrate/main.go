package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/migrate"
)

const usage = `usage: migrate [-dir DIR] <command> [arg]

commands:
  up             apply all pending migrations
  down           roll back the latest migration
  status         list applied and pending migrations
  version        print the current schema version
  to VERSION     migrate up or down to VERSION
  create NAME    write a new migration into -dir (default ` + migrate.SourceDir + `)
  validate       check migration files without touching the database

Without -dir the migrations compiled into this binary are used.
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, arg := flag.Arg(0), flag.Arg(1)

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	// create and validate work on files only and must run without a database.
	switch command {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.SourceDir
		}
		path, err := migrate.CreateSQLMigration(target, arg, time.Now())
		exitOn(logg, "create migration", err)
		fmt.Println(path)
		return
	case "validate":
		exitOn(logg, "validate migrations", migrate.Validate(source(*dir)))
		fmt.Println("migrations ok")
		return
	}

	cfg, err := config.Load()
	exitOn(logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "command": command})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(logg, "connect database", err)
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(logg, "open sql handle", err)

	runner, err := migrate.NewRunner(sqlDB, source(*dir))
	exitOn(logg, "load migrations", err)

	switch command {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = runner.Status(ctx)
	case "version":
		var v int64
		if v, err = runner.Version(ctx); err == nil {
			fmt.Println(v)
		}
	case "to":
		var target int64
		if target, err = strconv.ParseInt(arg, 10, 64); err != nil {
			err = fmt.Errorf("version %q is not a YYYYMMDDHHMMSS number", arg)
			break
		}
		err = runner.To(ctx, target)
	default:
		flag.Usage()
		os.Exit(2)
	}
	exitOn(logg, command, err)
	logg.Info(ctx, "migrate finished")
}

func source(dir string) fs.FS {
	if dir == "" {
		return migrate.Files()
	}
	return os.DirFS(dir)
}

func exitOn(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "migrate: "+step+" failed", err)
	os.Exit(1)
}
