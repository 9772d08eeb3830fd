package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/cli"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.DefaultOpener).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message(err))
		os.Exit(1)
	}
}

// message возвращает текст для оператора: код ошибки приложения и сообщение
func message(err error) string {
	if code := apperrors.CodeOf(err); code != apperrors.ErrInternal {
		return fmt.Sprintf("%s: %s", code, err.Error())
	}
	return err.Error()
}
