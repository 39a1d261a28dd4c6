package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/stageflow/config"
	"github.com/BaSui01/stageflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// fatalf 打印错误并以非零码退出
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// runMigrate 处理 migrate 命令及其子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator("migrate up", subargs, func(ctx context.Context, cli *migration.CLI, _ *migration.DefaultMigrator) error {
			return cli.RunUp(ctx)
		})
	case "down":
		runMigrateDown(subargs)
	case "status":
		withMigrator("migrate status", subargs, func(ctx context.Context, cli *migration.CLI, _ *migration.DefaultMigrator) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withMigrator("migrate version", subargs, func(ctx context.Context, cli *migration.CLI, _ *migration.DefaultMigrator) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		runMigrateGoto(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		withMigrator("migrate reset", subargs, func(ctx context.Context, cli *migration.CLI, _ *migration.DefaultMigrator) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand %q\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  stageflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all rolls back everything)
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)
  --db-url <url>    Database connection URL (default: from config)

Examples:
  stageflow migrate up
  stageflow migrate up --config /etc/stageflow/config.yaml
  stageflow migrate down
  stageflow migrate status`)
}

// createMigrator 根据命令行参数创建迁移器
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbURL != "" {
		return migration.NewMigratorFromURL(*dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// withMigrator 创建迁移器并执行回调，统一错误出口
func withMigrator(name string, args []string, fn func(context.Context, *migration.CLI, *migration.DefaultMigrator) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fatalf("create migrator: %v", err)
	}
	defer migrator.Close()

	if err := fn(context.Background(), migration.NewCLI(migrator), migrator); err != nil {
		fatalf("%s: %v", name, err)
	}
}

// runMigrateDown 回滚最后一次迁移，--all 时回滚全部
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")

	migrator, err := createMigrator(fs, args)
	if err != nil {
		fatalf("create migrator: %v", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	if *all {
		err = cli.RunDownAll(ctx)
	} else {
		err = cli.RunDown(ctx)
	}
	if err != nil {
		fatalf("migration rollback: %v", err)
	}
}

// runMigrateGoto 迁移到指定版本
func runMigrateGoto(args []string) {
	if len(args) < 1 {
		fatalf("usage: stageflow migrate goto <version>")
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fatalf("invalid version number %q", args[0])
	}

	withMigrator("migrate goto", args[1:], func(ctx context.Context, _ *migration.CLI, m *migration.DefaultMigrator) error {
		if err := m.Goto(ctx, uint(version)); err != nil {
			return err
		}
		fmt.Printf("Migrated to version %d\n", version)
		return nil
	})
}

// runMigrateForce 强制设置迁移版本
func runMigrateForce(args []string) {
	if len(args) < 1 {
		fatalf("usage: stageflow migrate force <version>")
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fatalf("invalid version number %q", args[0])
	}

	withMigrator("migrate force", args[1:], func(ctx context.Context, _ *migration.CLI, m *migration.DefaultMigrator) error {
		if err := m.Force(ctx, int(version)); err != nil {
			return err
		}
		fmt.Printf("Forced version to %d\n", version)
		return nil
	})
}
