package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ziQzav/khoj/internal/profile"
	"github.com/ziQzav/khoj/server"
	"github.com/ziQzav/khoj/store"
	"github.com/ziQzav/khoj/store/db"
)

const (
	greetingBanner = `Khoj chat server`
)

var (
	version = "0.1.0"

	rootCmd = &cobra.Command{
		Use:   "khoj",
		Short: "A personal assistant that answers from your notes",
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile := &profile.Profile{
				Mode:          viper.GetString("mode"),
				Addr:          viper.GetString("addr"),
				Port:          viper.GetInt("port"),
				Data:          viper.GetString("data"),
				Driver:        viper.GetString("driver"),
				DSN:           viper.GetString("dsn"),
				ChatModel:     viper.GetString("chat-model"),
				TokenizerName: viper.GetString("tokenizer"),
				MaxPromptSize: viper.GetInt("max-prompt-size"),
				OpenAIAPIKey:  viper.GetString("openai-api-key"),
				OpenAIBaseURL: viper.GetString("openai-base-url"),
				Version:       version,
			}
			if err := instanceProfile.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dbDriver, err := db.NewDBDriver(instanceProfile)
			if err != nil {
				slog.Error("failed to create db driver", "error", err)
				return err
			}

			storeInstance := store.New(dbDriver, instanceProfile)
			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				slog.Error("failed to create server", "error", err)
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Start(ctx)
			}()

			fmt.Printf("%s v%s, listening on %s:%d\n", greetingBanner, version, instanceProfile.Addr, instanceProfile.Port)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					slog.Error("server error", "error", err)
				}
			}

			s.Shutdown(context.Background())
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 42110, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")
	rootCmd.PersistentFlags().String("chat-model", "gpt-4-turbo-preview", "model used for chat responses")
	rootCmd.PersistentFlags().String("tokenizer", "", "tokenizer encoding override")
	rootCmd.PersistentFlags().Int("max-prompt-size", 0, "prompt token budget override")
	rootCmd.PersistentFlags().String("openai-api-key", "", "API key for the chat completion endpoint")
	rootCmd.PersistentFlags().String("openai-base-url", "", "base URL of an OpenAI-compatible endpoint")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 42110)
	viper.SetEnvPrefix("khoj")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
