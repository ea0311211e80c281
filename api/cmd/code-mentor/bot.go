package main

import (
	"errors"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"code-mentor/api/internal/telegram"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot (long polling)",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = a.context(ctx)

	if a.cfg.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required for the bot")
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	bot.Debug = false
	a.log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")

	stopPurge, err := startPurge(ctx, a)
	if err != nil {
		return err
	}
	defer stopPurge()

	r := telegram.NewRouter(bot, a.svc, a.log)
	telegram.RunPolling(ctx, bot, r.HandleUpdate)
	return nil
}
