package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/turtacn/Snowy/internal/credential"
	"github.com/turtacn/Snowy/internal/orchestrator"
	"github.com/turtacn/Snowy/pkg/logger"
	"github.com/turtacn/Snowy/pkg/protocol"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "snowy",
	Short:         "Snowy: a companion daemon that keeps its agent alive and gives it a face",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon: bridge, agent supervisor and voice loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := protocol.Load(cfgFile, envFile)
		if err != nil {
			return err
		}

		// 2. Init Logger
		logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

		// 3. Run Engine until signalled
		engine := orchestrator.NewEngine(cfg)
		if err := engine.Run(cmd.Context()); err != nil {
			logger.Log.Error("Engine fatal error", "err", err)
			return err
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon's bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := protocol.Load(cfgFile, envFile)
		if err != nil {
			return err
		}
		var status protocol.StatusResponse
		if err := bridgeCall(cfg, http.MethodGet, "/status", nil, &status); err != nil {
			return err
		}
		var face protocol.FaceStateResponse
		if err := bridgeCall(cfg, http.MethodGet, "/face", nil, &face); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bridge: %s (port %d)\nface:   %s (was %s)\n", status.Status, status.Port, face.State, face.Previous)
		return nil
	},
}

var faceCmd = &cobra.Command{
	Use:   "face <state>",
	Short: "Set the face shown by a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := protocol.Load(cfgFile, envFile)
		if err != nil {
			return err
		}
		state := args[0]
		var resp protocol.FaceShowResponse
		if err := bridgeCall(cfg, http.MethodPost, "/face/show", protocol.FaceShowRequest{State: &state}, &resp); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.State)
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Queue an utterance on a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := protocol.Load(cfgFile, envFile)
		if err != nil {
			return err
		}
		text := args[0]
		return bridgeCall(cfg, http.MethodPost, "/tts/speak", protocol.SpeakRequest{Text: &text}, nil)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Provision the app token and pair it with the agent config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := protocol.Load(cfgFile, envFile)
		if err != nil {
			return err
		}
		token, err := credential.NewStore(credential.NewFilePrefs(cfg.Credentials.StorePath)).Ensure()
		if err != nil {
			return err
		}
		if _, err := credential.InjectToken(cfg.AgentConfigPath(), token); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "agent config %s not found; token not paired\n", cfg.AgentConfigPath())
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	flags := pflag.NewFlagSet("config", pflag.ContinueOnError)
	flags.StringVarP(&cfgFile, "config", "c", "snowy.yaml", "config file path")
	flags.StringVar(&envFile, "env", ".env", "dotenv file loaded before the config (ignored when missing)")
	rootCmd.PersistentFlags().AddFlagSet(flags)

	rootCmd.AddCommand(startCmd, statusCmd, faceCmd, sayCmd, tokenCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var bridgeClient = &http.Client{Timeout: 5 * time.Second}

func bridgeCall(cfg *protocol.Config, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+cfg.Bridge.Addr+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := bridgeClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable at %s (is `snowy start` running?): %w", cfg.Bridge.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("bridge %s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Personal.AI order the ending
