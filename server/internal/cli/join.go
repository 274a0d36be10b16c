package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lesson-sync/server/internal/config"
	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/workspace"
)

// NewJoinCmd 创建 join 命令：建立传输通道、挂上 Session，然后进入命令循环。
func NewJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a lesson and drive the workspace from stdin",
		Long: `Join a lesson as tutor or student.

Backends:
  ws     HTTP join + websocket channel on the relay (default)
  redis  Redis pub/sub channel lesson:<id>, no relay needed

Type "help" after joining for the command list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envPath, _ := cmd.Flags().GetString("env")
			cfgPath, _ := cmd.Flags().GetString("config")
			lessonID, _ := cmd.Flags().GetString("lesson")
			roleFlag, _ := cmd.Flags().GetString("role")
			backend, _ := cmd.Flags().GetString("backend")
			relayURL, _ := cmd.Flags().GetString("relay")

			loadDotEnv(envPath, cmd.ErrOrStderr())
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.Relay.URL = relayURL
			}
			if lessonID == "" {
				return errors.New("--lesson is required")
			}
			role, err := model.ParseRole(roleFlag)
			if err != nil {
				return err
			}

			logger, closer, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			var l *link
			switch backend {
			case "ws":
				l, err = connectRelay(connectCtx, cfg.Relay.URL, lessonID, string(role), logger)
			case "redis":
				l, err = connectRedis(connectCtx, cfg.Redis, lessonID, logger)
			default:
				err = fmt.Errorf("unknown backend %q (ws|redis)", backend)
			}
			cancel()
			if err != nil {
				return err
			}
			defer l.close()

			session, err := workspace.New(SessionOptions(cfg.Sync, workspace.Options{
				LessonID:      lessonID,
				ParticipantID: l.participantID,
				Role:          role,
				Transport:     l.transport,
				Logger:        logger,
			}))
			if err != nil {
				return err
			}
			defer session.Close()

			out := cmd.OutOrStdout()
			unsubscribeCues := session.Cues().Subscribe(func(c workspace.Cue) {
				fmt.Fprintf(out, "» cue %s section=%s row=%s\n", c.Kind, c.SectionID, c.RowID)
			})
			defer unsubscribeCues()
			unsubscribeMirror := session.Mirror().Subscribe(func(sig workspace.BlockSignal) {
				fmt.Fprintf(out, "» block %s %s %.2f\n", sig.BlockID, sig.Kind, sig.Value)
			})
			defer unsubscribeMirror()

			fmt.Fprintf(out, "joined lesson %s as %s (%s, backend=%s)\n", lessonID, l.participantID, role, backend)
			return runLoop(ctx, session, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().String("lesson", "", "lesson id")
	cmd.Flags().String("role", "student", "tutor|student")
	cmd.Flags().String("backend", "ws", "ws|redis")
	cmd.Flags().String("relay", "", "relay base url (overrides config relay.url)")
	return cmd
}

// SessionOptions 把 sync 配置填进 Session 参数。
func SessionOptions(cfg config.SyncConfig, opts workspace.Options) workspace.Options {
	opts.RecoveryDelay = cfg.RecoveryDelay
	opts.SeekThreshold = cfg.SeekThreshold
	opts.RetryInterval = cfg.RetryInterval
	opts.RetryMaxInterval = cfg.RetryMaxInterval
	opts.RecoveryRetries = cfg.RecoveryRetries
	opts.SuppressWindow = cfg.SuppressWindow
	return opts
}

func loadDotEnv(path string, errOut io.Writer) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(errOut, "warning: load %s: %v\n", path, err)
	}
}

// readLines 在独立协程里逐行读取；ctx 取消后不再投递并关闭 lines。
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()
	return lines, scanErr
}

// runLoop 逐行执行命令，直到 quit、EOF 或收到信号。
func runLoop(ctx context.Context, s *workspace.Session, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, scanErr := readLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := Exec(s, strings.TrimSpace(line), out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}
