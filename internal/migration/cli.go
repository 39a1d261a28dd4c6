package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 把迁移器包装成面向终端的子命令实现，输出可注入便于测试
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI 创建输出到 stdout 的 CLI
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

// SetOutput 重定向输出
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// RunUp 应用全部待执行迁移并打印最终版本
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.out, "Applying pending migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return c.printCurrentVersion(ctx, "Done.")
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.out, "Rolling back one migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return c.printCurrentVersion(ctx, "Done.")
}

// RunDownAll 回滚全部迁移
func (c *CLI) RunDownAll(ctx context.Context) error {
	fmt.Fprintln(c.out, "Rolling back all migrations...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback all: %w", err)
	}
	fmt.Fprintln(c.out, "Schema reset to empty.")
	return nil
}

// RunVersion 打印当前迁移版本，dirty 状态单独标注
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "Schema is empty, no migrations applied.")
	case dirty:
		fmt.Fprintf(c.out, "Version %d (dirty, fix with 'migrate force')\n", version)
	default:
		fmt.Fprintf(c.out, "Version %d\n", version)
	}
	return nil
}

// RunStatus 以表格形式列出每个迁移的应用状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migration files found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	w.Flush()

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d applied, %d pending (%d total)\n",
		info.AppliedMigrations, info.PendingMigrations, info.TotalMigrations)
	return nil
}

func (c *CLI) printCurrentVersion(ctx context.Context, prefix string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Current version: %d\n", prefix, info.CurrentVersion)
	return nil
}
