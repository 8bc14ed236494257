package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/spf13/cobra"

	"github.com/asklokesh/FireLater-sub004/server/portal/chore/swap_sweep"
	"github.com/asklokesh/FireLater-sub004/job/email/escalation_digest"
	"github.com/asklokesh/FireLater-sub004/pkg/redis"
)

var (
	rootCmd = &cobra.Command{
		Use:   "job",
		Short: "FireLater oncall job runner",
		Long:  `FireLater oncall job runner is a CLI tool for running background jobs including swap expiry sweeps and escalation digest emails.`,
	}

	// 全局标志
	mysqlDSN   string
	redisAddr  string
	redisPass  string
	redisDB    string
)

func init() {
	// 全局标志
	rootCmd.PersistentFlags().StringVar(&mysqlDSN, "mysql-dsn", "", "MySQL connection string (default: root:root@tcp(127.0.0.1:3306)/firelater?charset=utf8mb4&parseTime=True&loc=Local)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-password", "", "Redis password")
	rootCmd.PersistentFlags().StringVar(&redisDB, "redis-db", "oncall", "Redis logical db name")

	// 添加子命令
	rootCmd.AddCommand(choreCmd)
	rootCmd.AddCommand(emailCmd)
}

// chore 命令
var choreCmd = &cobra.Command{
	Use:   "chore",
	Short: "Run chore jobs",
	Long:  `Run chore jobs for housekeeping tasks.`,
}

// email 命令
var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Run email notification jobs",
	Long:  `Run email notification jobs for escalation alerts and digests.`,
}

// swap-sweep 命令
var swapSweepCmd = &cobra.Command{
	Use:   "swap-sweep",
	Short: "Expire lapsed swap requests",
	Long:  `Transition pending swap requests past their expiry to expired across all tenants.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := initDB(mysqlDSN)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		if err := redis.Init(redisDB, redisAddr, redisPass); err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}

		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()

		sweeper := swap_sweep.NewSweeper(db, redis.NewRedisHandler(redisDB), logger)
		return sweeper.Run(cmd.Context())
	},
}

// escalation-digest 命令
var (
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	toEmails     string

	escalationDigestCmd = &cobra.Command{
		Use:   "escalation-digest",
		Short: "Send escalation digest email",
		Long:  `Summarize exhausted escalations and failed notifications of the last day and email the operations team.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := initDB(mysqlDSN)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			// 解析收件人列表
			recipients := strings.Split(toEmails, ",")
			if len(recipients) == 0 {
				return fmt.Errorf("at least one recipient email is required")
			}

			sender := escalation_digest.NewDigestSender(
				db,
				smtpHost,
				smtpPort,
				smtpUser,
				smtpPassword,
				fromEmail,
				recipients,
			)
			return sender.Run(cmd.Context())
		},
	}
)

func init() {
	// 将swap-sweep命令添加到chore命令下
	choreCmd.AddCommand(swapSweepCmd)

	// 将escalation-digest命令添加到email命令下
	emailCmd.AddCommand(escalationDigestCmd)

	// 添加escalation-digest命令的标志
	escalationDigestCmd.Flags().StringVar(&smtpHost, "smtp-host", "", "SMTP server host")
	escalationDigestCmd.Flags().IntVar(&smtpPort, "smtp-port", 587, "SMTP server port")
	escalationDigestCmd.Flags().StringVar(&smtpUser, "smtp-user", "", "SMTP username")
	escalationDigestCmd.Flags().StringVar(&smtpPassword, "smtp-password", "", "SMTP password")
	escalationDigestCmd.Flags().StringVar(&fromEmail, "from", "", "Sender email address")
	escalationDigestCmd.Flags().StringVar(&toEmails, "to", "", "Comma-separated list of recipient email addresses")

	// 标记必需的标志
	escalationDigestCmd.MarkFlagRequired("smtp-host")
	escalationDigestCmd.MarkFlagRequired("smtp-user")
	escalationDigestCmd.MarkFlagRequired("smtp-password")
	escalationDigestCmd.MarkFlagRequired("from")
	escalationDigestCmd.MarkFlagRequired("to")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
