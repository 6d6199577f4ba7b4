package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskminder/internal/notify"
)

func testEmailCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-email",
		Short: "Send a test message through the configured SMTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			to, _ := cmd.Flags().GetString("to")
			if to == "" {
				to = cfg.SMTP.Username
			}
			if to == "" {
				return errors.New("no recipient: pass --to or set smtp.username")
			}

			email, err := notify.NewEmail(notify.SMTPConfig(cfg.SMTP))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			msg := notify.Message{
				To:      to,
				Subject: "Test Email",
				Body:    "This is a test email sent by taskminder.",
			}
			if err := email.Notify(ctx, msg); err != nil {
				return fmt.Errorf("send test email: %w", err)
			}
			log.Info().Str("to", to).Msg("test email sent")
			return nil
		},
	}
	cmd.Flags().String("to", "", "recipient address (defaults to smtp.username)")
	return cmd
}
