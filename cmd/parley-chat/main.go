// Command parley-chat is an interactive terminal client for a
// conversational scene: type to talk, or stream the microphone, and hear
// characters answer through ffplay.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley-go/internal/dotenv"
	"github.com/parley-ai/parley-go/pkg/core/history"
	parley "github.com/parley-ai/parley-go/sdk"
)

type chatConfig struct {
	Gateway       string
	TokenEndpoint string
	APIKey        string
	Scene         string
	PlayerName    string
	Mic           bool
	SaveFile      string
	ResumeFile    string
	Verbose       bool
}

func main() {
	cfg := chatConfig{}

	root := &cobra.Command{
		Use:          "parley-chat",
		Short:        "Interactive voice chat with a conversational scene",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = dotenv.Load()
			if cfg.APIKey == "" {
				cfg.APIKey = os.Getenv("PARLEY_API_KEY")
			}
			if cfg.APIKey == "" {
				return fmt.Errorf("an API key is required (set --api-key or PARLEY_API_KEY)")
			}
			if cfg.Scene == "" {
				return fmt.Errorf("a scene is required (set --scene)")
			}
			return runChat(cmd.Context(), cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.Gateway, "gateway", "api.parley.ai", "session gateway hostname")
	flags.StringVar(&cfg.TokenEndpoint, "token-endpoint", "https://api.parley.ai/v1/session/token", "token exchange endpoint")
	flags.StringVar(&cfg.APIKey, "api-key", "", "API key (defaults to PARLEY_API_KEY)")
	flags.StringVar(&cfg.Scene, "scene", "", "scene resource name to load")
	flags.StringVar(&cfg.PlayerName, "name", "Player", "display name for the local user")
	flags.BoolVar(&cfg.Mic, "mic", false, "stream the microphone (requires ffmpeg)")
	flags.StringVar(&cfg.SaveFile, "save", "", "write session state to this file on exit")
	flags.StringVar(&cfg.ResumeFile, "resume", "", "resume from a session state file")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context, cfg chatConfig) error {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []parley.ClientOption{
		parley.WithGateway(cfg.Gateway, true),
		parley.WithTokenSource(newHTTPTokenSource(cfg.TokenEndpoint, cfg.APIKey)),
		parley.WithPlayerName(cfg.PlayerName),
		parley.WithDevice(ffplayDevice{}),
		parley.WithLogger(logger),
		parley.WithAutoDisconnect(5 * time.Minute),
	}
	if cfg.Mic {
		opts = append(opts, parley.WithCaptureSource(&ffmpegCapture{}))
	}
	client, err := parley.NewClient(opts...)
	if err != nil {
		return err
	}

	props := parley.SessionProps{
		Scene: cfg.Scene,
		Callbacks: parley.SessionCallbacks{
			OnHistoryChange: printLatest(os.Stdout, cfg.PlayerName),
			OnWarning: func(message string) {
				fmt.Fprintln(os.Stderr, "warning:", message)
			},
			OnError: func(err *parley.Error) {
				fmt.Fprintln(os.Stderr, "error:", err)
			},
		},
	}
	if cfg.ResumeFile != "" {
		state, err := os.ReadFile(cfg.ResumeFile)
		if err != nil {
			return fmt.Errorf("reading resume file: %w", err)
		}
		continuation, err := parley.ContinuationFromState(state)
		if err != nil {
			return fmt.Errorf("parsing resume file: %w", err)
		}
		props.Continuation = continuation
		props.RequestHistory = true
	}

	sess, err := client.OpenSession(ctx, props)
	if err != nil {
		return err
	}
	defer sess.Close()

	status := sess.SceneStatus()
	fmt.Printf("Connected to %s with %d character(s). Type to talk, /help for commands.\n",
		status.SceneName, len(status.Agents))

	if cfg.Mic {
		if err := sess.StartCapture(); err != nil {
			return err
		}
		fmt.Println("Microphone streaming; /mute to pause it.")
	}

	err = inputLoop(ctx, sess, cfg)

	if cfg.SaveFile != "" {
		if state, serr := sess.SaveState(); serr == nil {
			if werr := os.WriteFile(cfg.SaveFile, state, 0o600); werr != nil {
				fmt.Fprintln(os.Stderr, "saving session state:", werr)
			}
		}
	}
	return err
}

func inputLoop(ctx context.Context, sess *parley.Session, cfg chatConfig) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := sess.SendText(ctx, line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println("/quit /mute /unmute /silence /unsilence /interrupt /do <action> /trigger <name> /scene <name> /add <name,...> /transcript")
		case "mute":
			sess.SetMicMute(true)
		case "unmute":
			sess.SetMicMute(false)
		case "silence":
			sess.SetPlaybackMute(true)
		case "unsilence":
			sess.SetPlaybackMute(false)
		case "interrupt":
			sess.Interrupt()
		case "do":
			if err := sess.SendNarratedAction(ctx, rest); err != nil {
				fmt.Fprintln(os.Stderr, "narrated action failed:", err)
			}
		case "trigger":
			if err := sess.SendTrigger(ctx, rest, nil); err != nil {
				fmt.Fprintln(os.Stderr, "trigger failed:", err)
			}
		case "scene":
			if err := sess.ChangeScene(ctx, rest); err != nil {
				fmt.Fprintln(os.Stderr, "scene change failed:", err)
			}
		case "add":
			names := strings.Split(rest, ",")
			for i := range names {
				names[i] = strings.TrimSpace(names[i])
			}
			if err := sess.AddCharacters(ctx, names); err != nil {
				fmt.Fprintln(os.Stderr, "add characters failed:", err)
			}
		case "transcript":
			fmt.Print(sess.Transcript())
		default:
			fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		}
	}
	return scanner.Err()
}

// printLatest prints newly finalized history items as they become visible.
func printLatest(out *os.File, playerName string) func(items []history.Item) {
	printed := 0
	return func(items []history.Item) {
		if len(items) < printed {
			// Cancellation trimmed the transcript.
			printed = len(items)
			return
		}
		for _, item := range items[printed:] {
			switch item.Type {
			case history.ItemActor:
				name := item.Source.Name
				if item.Source.IsPlayer() {
					name = playerName
				}
				fmt.Fprintf(out, "%s: %s\n", name, item.Text)
			case history.ItemNarratedAction:
				fmt.Fprintf(out, "%s: *%s*\n", item.Source.Name, item.Text)
			case history.ItemSceneChange:
				fmt.Fprintf(out, ">>> Now in %s\n", item.SceneName)
			case history.ItemTriggerEvent:
				fmt.Fprintf(out, ">>> %s\n", item.EventName)
			}
		}
		printed = len(items)
	}
}
