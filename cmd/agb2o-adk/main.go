package main

import (
	"context"
	"fmt"
	"os"

	"github.com/LubyRuffy/agb2o"
	"github.com/LubyRuffy/agb2o/backend"
	"github.com/LubyRuffy/agb2o/config"
	"github.com/LubyRuffy/agb2o/logging"
	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultAgentName = "agb2o-agent"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		model      string
		input      string
		effort     string
		stream     bool
	)
	cmd := &cobra.Command{
		Use:           "agb2o-adk",
		Short:         "Run a single eino ADK agent turn against the Antigravity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}
			client, err := cfg.NewClient(logrus.NewEntry(logger))
			if err != nil {
				return err
			}
			m, err := backend.NewChatModel(backend.ChatModelConfig{
				Model:           agb2o.NormalizeModelID(model),
				Client:          client,
				Request:         cfg.RequestOptions(),
				ReasoningEffort: effort,
			})
			if err != nil {
				return fmt.Errorf("create model failed: %w", err)
			}
			return runAgent(cmd.Context(), m, input, stream)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agb2o.yaml", "config file (missing file uses defaults)")
	cmd.Flags().StringVar(&model, "model", agb2o.ModelNamespace+"gemini-2.5-flash", "model id")
	cmd.Flags().StringVar(&input, "input", "你好，介绍一下你自己", "user input")
	cmd.Flags().StringVar(&effort, "reasoning-effort", "", "reasoning effort: none|low|medium|high")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the agent output")
	return cmd
}

func runAgent(ctx context.Context, m *backend.ChatModel, input string, stream bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	agent, err := adk.NewChatModelAgent(ctx, &adk.ChatModelAgentConfig{
		Name:        defaultAgentName,
		Description: "agb2o demo agent",
		Model:       m,
	})
	if err != nil {
		return fmt.Errorf("create agent failed: %w", err)
	}

	runner := adk.NewRunner(ctx, adk.RunnerConfig{
		Agent:           agent,
		EnableStreaming: stream,
	})

	iter := runner.Run(ctx, []adk.Message{schema.UserMessage(input)})
	for {
		ev, ok := iter.Next()
		if !ok {
			break
		}
		if ev.Err != nil {
			return fmt.Errorf("run failed: %w", ev.Err)
		}
		if ev.Output == nil || ev.Output.MessageOutput == nil {
			continue
		}
		out := ev.Output.MessageOutput
		if out.IsStreaming {
			for {
				msg, err := out.MessageStream.Recv()
				if err != nil {
					break
				}
				printMessage(msg)
			}
			continue
		}
		printMessage(out.Message)
	}
	fmt.Println()
	return nil
}

func printMessage(msg *schema.Message) {
	if msg == nil {
		return
	}
	if msg.ReasoningContent != "" {
		fmt.Fprint(os.Stderr, msg.ReasoningContent)
	}
	if msg.Content != "" {
		fmt.Print(msg.Content)
	}
}
